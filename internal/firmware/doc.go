// Package firmware loads firmware images for download.
//
// Two formats are supported: ELF executables, whose loadable program
// headers become segments at their physical addresses, and Intel HEX files,
// whose data records are merged into contiguous segments.
//
//	img, err := firmware.Load("build/app.elf", firmware.FormatELF)
//	for _, seg := range img.Segments {
//	    ...
//	}
//
// A file that cannot be opened yields a *FileError; a file that opens but
// does not decode yields a *ParseError. Load never returns a partial image.
package firmware
