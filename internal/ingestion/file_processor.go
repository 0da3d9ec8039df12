package ingestion

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ThiagoRGoveia/sensor-elt/internal/models"
	"go.uber.org/zap"
)

// Processor discovers candidate files.
type Processor interface {
	ScanForFiles(rootPath string) ([]models.FileInfo, error)
}

// FileProcessor lists eligible files in the landing directory.
type FileProcessor struct {
	logger *zap.Logger
}

func NewFileProcessor(logger *zap.Logger) *FileProcessor {
	return &FileProcessor{logger: logger}
}

// ScanForFiles returns the regular *.csv files directly under rootPath,
// sorted by name. Hidden files and subdirectories are ignored.
func (fp *FileProcessor) ScanForFiles(rootPath string) ([]models.FileInfo, error) {
	fp.logger.Debug("scanning for files", zap.String("dir", rootPath))

	entries, err := os.ReadDir(rootPath)
	if err != nil {
		return nil, fmt.Errorf("error reading directory %s: %w", rootPath, err)
	}

	var fileInfos []models.FileInfo
	for _, entry := range entries {
		name := entry.Name()
		if !IsCandidate(name) || !entry.Type().IsRegular() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// Removed between listing and stat.
			fp.logger.Warn("could not stat file, skipping", zap.String("source_file", name), zap.Error(err))
			continue
		}

		fileInfos = append(fileInfos, models.FileInfo{
			Path: filepath.Join(rootPath, name),
			Name: name,
			Size: info.Size(),
		})
	}

	sort.Slice(fileInfos, func(i, j int) bool { return fileInfos[i].Name < fileInfos[j].Name })

	fp.logger.Debug("scan finished", zap.Int("files", len(fileInfos)))
	return fileInfos, nil
}

// IsCandidate reports whether a file name is eligible for ingestion.
func IsCandidate(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(name), ".csv")
}
