package files

import (
	"log"
	"mime"
	"path"
)

func init() {
	ensureMimeType(".xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	ensureMimeType(".csv", "text/csv; charset=utf-8")
	ensureMimeType(".md", "text/markdown; charset=utf-8")
}

func ensureMimeType(ext, typ string) {
	if mime.TypeByExtension(ext) != "" {
		return
	}
	if err := mime.AddExtensionType(ext, typ); err != nil {
		log.Printf("files: failed to register MIME type for %s: %v", ext, err)
	}
}

func contentTypeFor(name string) string {
	if typ := mime.TypeByExtension(path.Ext(name)); typ != "" {
		return typ
	}
	return "application/octet-stream"
}
