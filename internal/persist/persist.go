// Package persist keeps small device records, like lifetime counters, across reboots and
// power loss. Each record lives in its own extremofile directory under a common root.
package persist

import (
	"encoding"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/cellbeat/cellbeat/log2"
	"github.com/juju/errors"
	"github.com/temoto/extremofile"
)

// Record is saved and restored as one binary blob.
type Record interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type blobFile interface {
	Read() ([]byte, error)
	io.Writer
}

// Persist saves one Record at root/name.
// Empty root is valid and means nothing survives restart, Load and Store do nothing.
type Persist struct {
	mu   sync.Mutex
	log  *log2.Log
	name string
	rec  Record
	file blobFile
}

func (p *Persist) Init(name string, rec Record, root string, log *log2.Log) error {
	if name == "" || rec == nil {
		return errors.Errorf("code error persist Init name=%q record=%v", name, rec)
	}
	p.name = name
	p.rec = rec
	p.log = log
	if root == "" {
		p.log.Debugf("persist %s: no root, not saved", name)
		return nil
	}
	p.file = extremofile.New(extremofile.Config{
		Dir:      filepath.Join(root, name),
		DirPerm:  0755,
		FilePerm: 0644,
	})
	return nil
}

func (p *Persist) Enabled() bool { return p.file != nil }

// Load restores record from disk. Nothing saved yet is not an error.
func (p *Persist) Load() error {
	if p.rec == nil {
		return errors.Errorf("code error persist Load before Init")
	}
	if p.file == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	tbegin := time.Now()
	b, err := p.file.Read()
	p.log.Debugf("persist %s read %dB in %v", p.name, len(b), time.Since(tbegin))
	switch {
	case b == nil && err == nil:
		return nil
	case b == nil:
		return errors.Annotatef(err, "persist %s load", p.name)
	case err != nil:
		// one copy damaged, the other one is still good
		p.log.Errorf("persist %s recovered after read err=%v", p.name, err)
	}
	return errors.Annotatef(p.rec.UnmarshalBinary(b), "persist %s decode", p.name)
}

// Store writes current record. Caller serializes record changes itself.
func (p *Persist) Store() error {
	if p.rec == nil {
		return errors.Errorf("code error persist Store before Init")
	}
	if p.file == nil {
		return nil
	}
	b, err := p.rec.MarshalBinary()
	if err != nil {
		return errors.Annotatef(err, "persist %s encode", p.name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	tbegin := time.Now()
	if _, err = p.file.Write(b); extremofile.IsCritical(err) {
		return errors.Annotatef(err, "persist %s store", p.name)
	} else if err != nil {
		p.log.Errorf("persist %s main copy written, backup err=%v", p.name, err)
	}
	p.log.Debugf("persist %s wrote %dB in %v", p.name, len(b), time.Since(tbegin))
	return nil
}
