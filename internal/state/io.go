package state

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/juju/errors"
)

// SourceReader resolves config source names, including `include` names, to file content.
type SourceReader interface {
	Resolve(name string) string
	// Read returns nil,nil when source does not exist
	Read(path string) ([]byte, error)
}

// DirReader reads config files, relative names resolve against directory of main config.
type DirReader struct {
	base string
}

func NewDirReader() *DirReader { return &DirReader{} }

func (self *DirReader) SetBase(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return errors.Annotatef(err, "config base dir=%s", dir)
	}
	self.base = abs
	return nil
}

func (self *DirReader) Resolve(name string) string {
	if !filepath.IsAbs(name) {
		name = filepath.Join(self.base, name)
	}
	return filepath.Clean(name)
}

func (*DirReader) Read(path string) ([]byte, error) {
	b, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return b, err
}

// MapReader serves config sources from memory, for tests.
type MapReader map[string]string

func NewMapReader(sources map[string]string) MapReader { return MapReader(sources) }

func (MapReader) Resolve(name string) string { return filepath.Clean(name) }

func (self MapReader) Read(name string) ([]byte, error) {
	if s, ok := self[name]; ok {
		return []byte(s), nil
	}
	return nil, nil
}
