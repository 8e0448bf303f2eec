package trigger

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

type port struct {
	bytes.Buffer
}

func (p *port) Close() error { return nil }

func TestTakeImages(t *testing.T) {
	p := &port{}
	s := NewSerial("/dev/null", 0)
	s.Dial = func() (io.ReadWriteCloser, error) { return p, nil }
	if err := s.TakeImages(12); err != nil {
		t.Fatal(err)
	}
	if err := s.TakeImages(1); err != nil {
		t.Fatal(err)
	}
	if p.String() != "12\n1\n" {
		t.Errorf("expected 12\\n1\\n on the port, got %q", p.String())
	}
	if err := s.TakeImages(0); !errors.Is(err, ErrNoImages) {
		t.Errorf("expected ErrNoImages, got %v", err)
	}
	if c := s.SerialConf(); c.Baud != 9600 || c.Name != "/dev/null" {
		t.Errorf("unexpected serial config %+v", c)
	}
}
