// Package flash downloads firmware images to an attached target.
//
// A Provisioner follows a fixed sequence: load and fully parse the file,
// split segments into blocks, halt, erase (whole chip or the ranges the
// image covers), program every block, then reset and run. Nothing
// destructive happens until the image has parsed.
//
//	p := flash.New(sess,
//	    flash.WithLogger(logger),
//	    flash.WithProgress(func(e flash.Event) { ... }),
//	)
//	report, err := p.Provision(ctx, "app.hex", firmware.FormatHex, flash.Plan{
//	    ChipErase:       true,
//	    DoubleBuffering: true,
//	    Progress:        true,
//	})
//
// With double buffering, the transfer of block n+1 overlaps the
// programming of block n. The first failure aborts the download; there is
// no rollback and no retry.
package flash
