package auth

import "slices"

// Actions a role may be granted. Listing, search and the folder tree need
// no permission.
const (
	ActUpload      = "upload"
	ActDownload    = "download"
	ActDelete      = "delete"
	ActRename      = "rename"
	ActNewFolder   = "new_folder"
	ActCopy        = "copy"
	ActMove        = "move"
	ActView        = "view"
	ActViewPDF     = "view_pdf"
	ActExtract     = "extract"
	ActZip         = "zip"
	ActPermissions = "permissions"
)

var AllActions = []string{
	ActUpload, ActDownload, ActDelete, ActRename, ActNewFolder, ActCopy,
	ActMove, ActView, ActViewPDF, ActExtract, ActZip, ActPermissions,
}

// Roles maps a role name to its granted actions; "*" grants everything.
type Roles map[string][]string

func (r Roles) Exists(role string) bool {
	_, ok := r[role]
	return ok
}

// Can reports whether role may perform action. Unknown roles may do nothing.
func (r Roles) Can(role, action string) bool {
	granted, ok := r[role]
	if !ok {
		return false
	}
	return slices.Contains(granted, "*") || slices.Contains(granted, action)
}

// Granted lists the actions role may perform, in AllActions order.
func (r Roles) Granted(role string) []string {
	var out []string
	for _, a := range AllActions {
		if r.Can(role, a) {
			out = append(out, a)
		}
	}
	return out
}
