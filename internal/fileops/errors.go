package fileops

import (
	"errors"
	"io/fs"

	"filedeck/internal/fsutil"
)

var (
	ErrNotFound       = errors.New("source does not exist")
	ErrDestMissing    = errors.New("destination directory does not exist")
	ErrSelfContained  = errors.New("cannot copy a folder into itself")
	ErrExists         = errors.New("file or folder already exists at destination")
	ErrInvalidMode    = errors.New("invalid permission mode")
	ErrNotAFile       = errors.New("not a regular file")
	ErrRootProtected  = errors.New("the root directory cannot be modified")
	ErrTooDeep        = errors.New("directory tree too deep")
	ErrTooLarge       = errors.New("file too large")
	ErrTypeNotAllowed = errors.New("file type not allowed")
	ErrEmptyUpload    = errors.New("empty upload")
)

// Message maps an operation error to the short text shown to users.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, fsutil.ErrOutsideRoot), errors.Is(err, fsutil.ErrInvalidName):
		return "Invalid path"
	case errors.Is(err, ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return "Source does not exist"
	case errors.Is(err, ErrDestMissing):
		return "Destination directory does not exist"
	case errors.Is(err, ErrSelfContained):
		return "Cannot copy a folder into itself"
	case errors.Is(err, ErrExists):
		return "File or folder already exists at destination"
	case errors.Is(err, ErrInvalidMode):
		return "Invalid permission mode"
	case errors.Is(err, ErrTooLarge):
		return "File too large"
	case errors.Is(err, ErrTypeNotAllowed):
		return "File type not allowed"
	case errors.Is(err, ErrEmptyUpload):
		return "Empty file"
	case errors.Is(err, ErrRootProtected):
		return "The root directory cannot be modified"
	default:
		return err.Error()
	}
}
