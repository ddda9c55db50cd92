package storage

import (
	"context"
	"errors"
	"os"
)

// CorpusState is a source of raw recipe corpus JSON.
type CorpusState interface {
	Load(ctx context.Context) ([]byte, error)
}

type FileCorpusState struct {
	FilePath string
}

func NewFileCorpusState(filePath string) *FileCorpusState {
	return &FileCorpusState{FilePath: filePath}
}

func (f *FileCorpusState) Load(ctx context.Context) ([]byte, error) {
	return os.ReadFile(f.FilePath)
}

// TestCorpusState is a simple in-memory implementation for testing
type TestCorpusState struct {
	data []byte
	err  error
}

func NewTestCorpusState(data []byte) *TestCorpusState {
	return &TestCorpusState{data: data}
}

func NewTestCorpusStateWithError() *TestCorpusState {
	return &TestCorpusState{err: errors.New("not found")}
}

func (t *TestCorpusState) Load(ctx context.Context) ([]byte, error) {
	if t.err != nil {
		return nil, t.err
	}
	return t.data, nil
}
