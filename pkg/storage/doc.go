// Package storage writes CLI output into a directory.
//
// The Manager reserves the names of files already in the directory, so new
// downloads never overwrite them: a second "photo.jpg" is saved as
// "photo_2.jpg". Writes go through a temporary file and a rename, so a crash
// never leaves a half-written file under a final name.
//
// Usage:
//
//	manager, err := storage.NewManager("downloads")
//	if err != nil {
//	    return err
//	}
//
//	path, err := manager.SaveImage("sunset", "image/jpeg", rawURL, data)
//
//	f, err := manager.Create("images-2024-03-09.zip")
//	if err != nil {
//	    return err
//	}
//	if _, err := assembler.Build(ctx, items, opts, f); err != nil {
//	    f.Abort()
//	    return err
//	}
//	return f.Commit()
package storage
