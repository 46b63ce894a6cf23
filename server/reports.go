package server

import (
	"archive/zip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/colinzhu/jmeter-web-runner-sub000/errors"
)

// handleReportDownload serves GET /api/reports/{executionID} as a zip
// archive of the execution's output directory (HTML report plus the
// raw results log).
func (s *Server) handleReportDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	executionID := strings.TrimPrefix(r.URL.Path, "/api/reports/")
	if executionID == "" || strings.Contains(executionID, "/") {
		http.Error(w, "execution id required", http.StatusBadRequest)
		return
	}

	report, err := s.reports.GetByExecution(executionID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	info, err := os.Stat(report.Path)
	if err != nil || !info.IsDir() {
		s.writeError(w, errors.NewNotFoundError("report output for execution %s no longer on disk", executionID))
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", executionID+"-report.zip"))
	w.WriteHeader(http.StatusOK)

	if err := zipDirectory(w, report.Path); err != nil {
		// Headers are already sent; all we can do is log and cut the
		// connection short.
		s.log.Errorw("report archive streaming failed", "execution_id", executionID, "error", err)
	}
}

// zipDirectory writes the contents of root as a zip archive to w, with
// entry names relative to root.
func zipDirectory(w io.Writer, root string) error {
	zw := zip.NewWriter(w)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		header.Method = zip.Deflate

		entry, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(entry, f)
		return err
	})
	if err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}
