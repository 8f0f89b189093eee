package cipherbun

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/toeirei/cipherbun/schema"
)

// closableReader records whether Close ran, and can fail it on purpose.
type closableReader struct {
	*strings.Reader
	closed   bool
	closeErr error
}

func (c *closableReader) Close() error {
	c.closed = true
	return c.closeErr
}

func TestNew_MissingSchemaConfigFileIsFatal(t *testing.T) {
	schema.Reset()
	t.Cleanup(schema.Reset)

	missing := filepath.Join(t.TempDir(), "nope.yaml")
	_, err := New("x.db", 1, CallbackFuncs{}, WithSchemaConfigFile(missing))
	if err == nil {
		t.Fatalf("expected construction to fail for a missing schema config file")
	}
	var se *StateError
	if !errors.As(err, &se) {
		t.Fatalf("expected StateError, got %T: %v", err, err)
	}
	if schema.Len() != 0 {
		t.Fatalf("a failed load must leave the registry empty")
	}
}

func TestNew_NilSchemaConfigStreamIsNoOp(t *testing.T) {
	schema.Reset()
	t.Cleanup(schema.Reset)

	h, err := New("x.db", 1, CallbackFuncs{}, WithSchemaConfig(nil))
	if err != nil {
		t.Fatalf("nil schema config stream must be a no-op, got: %v", err)
	}
	if h == nil {
		t.Fatalf("expected a helper")
	}
	if schema.Len() != 0 {
		t.Fatalf("nil stream must not register anything")
	}
}

func TestNew_SchemaConfigStreamIsClosedEitherWay(t *testing.T) {
	schema.Reset()
	t.Cleanup(schema.Reset)

	good := &closableReader{Reader: strings.NewReader("tables:\n  - entity: User\n    table: users\n")}
	if _, err := New("x.db", 1, CallbackFuncs{}, WithSchemaConfig(good)); err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !good.closed {
		t.Fatalf("stream must be closed after a successful parse")
	}
	if _, ok := schema.Lookup("User"); !ok {
		t.Fatalf("expected User to be registered")
	}

	bad := &closableReader{Reader: strings.NewReader("tables: {")}
	_, err := New("x.db", 1, CallbackFuncs{}, WithSchemaConfig(bad))
	if err == nil {
		t.Fatalf("expected a parse fault")
	}
	var se *StateError
	if !errors.As(err, &se) {
		t.Fatalf("expected StateError, got %T: %v", err, err)
	}
	if !bad.closed {
		t.Fatalf("stream must be closed even when parsing fails")
	}
}

func TestNew_SchemaConfigFromFS(t *testing.T) {
	schema.Reset()
	t.Cleanup(schema.Reset)

	fsys := fstest.MapFS{
		"conf/schema.yaml": &fstest.MapFile{
			Data: []byte("tables:\n  - entity: Note\n    table: notes\n"),
		},
	}
	if _, err := New("x.db", 1, CallbackFuncs{}, WithSchemaConfigFS(fsys, "conf/schema.yaml")); err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := schema.Lookup("Note"); !ok {
		t.Fatalf("expected Note to be registered from the embedded resource")
	}

	_, err := New("x.db", 1, CallbackFuncs{}, WithSchemaConfigFS(fsys, "conf/missing.yaml"))
	if err == nil {
		t.Fatalf("expected a missing embedded resource to fail")
	}
	var se *StateError
	if !errors.As(err, &se) {
		t.Fatalf("expected StateError, got %T: %v", err, err)
	}
}

func TestNew_SchemaConfigCloseErrorIsSwallowed(t *testing.T) {
	schema.Reset()
	t.Cleanup(schema.Reset)

	r := &closableReader{
		Reader:   strings.NewReader("tables:\n  - entity: User\n    table: users\n"),
		closeErr: errors.New("close failed"),
	}
	if _, err := New("x.db", 1, CallbackFuncs{}, WithSchemaConfig(r)); err != nil {
		t.Fatalf("close faults are best-effort cleanup and must be swallowed, got: %v", err)
	}
}
