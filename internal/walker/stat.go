package walker

import (
	"os"

	"github.com/imrandevofficial/openapi-servers/pkg/models"
)

// Metadata stats path and returns its kind, size and UTC timestamps. The
// birth time falls back to the metadata-change time on filesystems that do
// not record one.
func Metadata(path string) (models.Metadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.Metadata{}, err
	}

	kind := models.KindOther
	switch {
	case info.Mode().IsRegular():
		kind = models.KindFile
	case info.IsDir():
		kind = models.KindDirectory
	}

	changed := changeTime(info)
	created, ok := birthTime(path, info)
	if !ok {
		created = changed
	}

	return models.Metadata{
		Path:      path,
		Type:      kind,
		SizeBytes: info.Size(),
		Modified:  info.ModTime().UTC(),
		Created:   created.UTC(),
		Changed:   changed.UTC(),
	}, nil
}
