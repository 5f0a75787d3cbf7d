package provider

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mohammed-shakir/sky-coverage/internal/moc"
)

// Dir serves coverage files from a local directory: <root>/<name>.json in
// IVOA JSON or <root>/<name>.txt in ASCII. The registry, when set, supplies
// the frame.
type Dir struct {
	root     string
	registry *Registry
}

func NewDir(root string, reg *Registry) (*Dir, error) {
	st, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("moc dir: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("moc dir %q is not a directory", root)
	}
	return &Dir{root: root, registry: reg}, nil
}

func (d *Dir) Coverage(ctx context.Context, dataset string) (*moc.MOC, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(dataset)
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, notFound(dataset)
	}
	frame := d.registry.Resolve(name).Frame
	for _, f := range []moc.Format{moc.FormatJSON, moc.FormatASCII} {
		path := filepath.Join(d.root, name+extension(f))
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		m, err := moc.DeserializeFormat(data, f, frame)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return m, nil
	}
	return nil, notFound(dataset)
}

func extension(f moc.Format) string {
	if f == moc.FormatASCII {
		return ".txt"
	}
	return ".json"
}
