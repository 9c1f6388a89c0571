// Package gridlink is the library API of the gridlink client.
//
// A Client is built from configuration. It opens negotiated connections to
// the grid server and owns the restart ledger that lets interrupted parallel
// transfers resume where each worker stopped.
//
// # Concurrency Safety
//
//   - Connect may be called from several goroutines; each call returns its own
//     Session, and a Session belongs to one goroutine at a time.
//
//   - Ledger operations are safe for concurrent use. Updates to one transfer
//     are serialized; different transfers proceed in parallel.
//
//   - Only one Client should open a given file or badger restart directory.
//
// # Usage
//
//	cfg, _ := config.Load(config.DefaultPath())
//	client, err := gridlink.Open(cfg)
//	defer client.Close()
//
//	sess, err := client.Connect(ctx)
//	defer sess.Close()
//
//	id, _ := client.RestartID(model.RestartPut, "/tempZone/home/rods/big.dat")
//	err = client.Transfer(ctx, transfer.Job{ID: id, LocalPath: local, Size: size}, worker)
package gridlink
