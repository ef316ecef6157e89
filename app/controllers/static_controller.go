package controllers

import (
	"net/http"

	"github.com/gorilla/mux"

	"inkwell/app/storage"
)

// StaticController serves stored post documents and media by name.
// Directory listings are never produced.
type StaticController struct {
	files *storage.Disk
}

func NewStaticController(files *storage.Disk) *StaticController {
	return &StaticController{files: files}
}

// Documents handles GET /documents/{name}
func (sc *StaticController) Documents(w http.ResponseWriter, r *http.Request) {
	sc.serve(w, r, storage.Documents)
}

// Media handles GET /media/{name}
func (sc *StaticController) Media(w http.ResponseWriter, r *http.Request) {
	sc.serve(w, r, storage.Media)
}

func (sc *StaticController) serve(w http.ResponseWriter, r *http.Request, b storage.Bucket) {
	name := mux.Vars(r)["name"]
	f, err := sc.files.Open(b, name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, name, info.ModTime(), f)
}
