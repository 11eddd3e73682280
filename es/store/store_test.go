package store

import (
	"context"
	"errors"
	"testing"
)

func TestErrStorageUnavailable_IsStorageError(t *testing.T) {
	if !errors.Is(ErrStorageUnavailable, ErrStorage) {
		t.Fatal("ErrStorageUnavailable should match ErrStorage")
	}
	if errors.Is(ErrStorage, ErrStorageUnavailable) {
		t.Fatal("ErrStorage should not match ErrStorageUnavailable")
	}
}

func TestSlice_StopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []int
	var gotErr error
	for v, err := range Slice(ctx, []int{1, 2, 3, 4}) {
		if err != nil {
			gotErr = err
			break
		}
		got = append(got, v)
		if v == 2 {
			cancel()
		}
	}

	if len(got) != 2 {
		t.Errorf("expected 2 items before cancellation, got %v", got)
	}
	if !errors.Is(gotErr, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", gotErr)
	}
}

func TestCollect(t *testing.T) {
	items, err := Collect(Slice(context.Background(), []string{"a", "b"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 || items[0] != "a" || items[1] != "b" {
		t.Errorf("Collect() = %v", items)
	}

	_, err = Collect(Error[string](ErrDisposed))
	if !errors.Is(err, ErrDisposed) {
		t.Errorf("expected ErrDisposed, got %v", err)
	}
}
