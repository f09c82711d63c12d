package transfer

import (
	"path"
	"strings"

	"github.com/podushkina/uploadqueue/internal/task"
)

// ObjectKey places an upload under prefix/folder[/new folder]/name. Every
// segment is cleaned so a payload name cannot escape its folder.
func ObjectKey(prefix string, meta task.Metadata, name string) string {
	segs := make([]string, 0, 4)
	for _, s := range []string{prefix, meta.FolderID, meta.NewFolderName} {
		if s = cleanSegment(s); s != "" {
			segs = append(segs, s)
		}
	}
	base := path.Base(cleanSegment(name))
	if base == "." || base == "/" || base == "" {
		base = "unnamed"
	}
	return strings.Join(append(segs, base), "/")
}

func cleanSegment(s string) string {
	return strings.Trim(path.Clean("/"+s), "/")
}

func objectMetadata(meta task.Metadata) map[string]string {
	md := make(map[string]string, 2)
	if meta.FolderID != "" {
		md["folder-id"] = meta.FolderID
	}
	if meta.NewFolderName != "" {
		md["folder-name"] = meta.NewFolderName
	}
	return md
}
