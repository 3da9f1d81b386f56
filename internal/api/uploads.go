package api

import (
	"io"
	"net/http"
)

// maxUploadSize bounds input media forwarded to the compute backend.
const maxUploadSize = 64 << 20 // 64 MB

type uploadResponse struct {
	Name string `json:"name"`
}

// handleUpload forwards one input file (image or audio) to the compute
// backend's media store and returns the stored name, which workflow params
// then reference.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart upload")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	name, err := s.backend.UploadMedia(r.Context(), header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		s.logger.Error("upload media", "filename", header.Filename, "error", err)
		s.writeError(w, http.StatusBadGateway, "failed to store media on compute backend")
		return
	}

	s.writeJSON(w, http.StatusOK, uploadResponse{Name: name})
}
