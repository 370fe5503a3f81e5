package froster_test

import (
	"context"
	"errors"
	"testing"

	"froster-go/internal/froster"
	"froster-go/internal/testutil"
)

func TestService_Mount(t *testing.T) {
	ctx := context.Background()

	t.Run("unregistered folder is an error", func(t *testing.T) {
		folder := testutil.TempTree(t, nil)
		store := testutil.NewFakeObjectStore("test-bucket")
		svc, _ := newTestService(t, store, testTarget(froster.ClassStandard))

		err := svc.Mount(ctx, folder, "")
		if !errors.Is(err, froster.ErrNotArchived) {
			t.Fatalf("Mount() error = %v, want ErrNotArchived", err)
		}
	})

	t.Run("mounts an archived folder over itself", func(t *testing.T) {
		folder := testutil.TempTree(t, map[string]string{"f.dat": "data"})
		store := testutil.NewFakeObjectStore("test-bucket")
		svc, _ := newTestService(t, store, testTarget(froster.ClassStandard))

		if err := svc.Archive(ctx, []string{folder}, froster.ArchiveFlags{}); err != nil {
			t.Fatalf("Archive() error = %v", err)
		}
		if err := svc.Mount(ctx, folder, ""); err != nil {
			t.Fatalf("Mount() error = %v", err)
		}

		mounts, err := svc.Mounts()
		if err != nil {
			t.Fatalf("Mounts() error = %v", err)
		}
		if len(mounts) != 1 || mounts[0] != folder {
			t.Fatalf("mounts = %v, want [%s]", mounts, folder)
		}
	})

	t.Run("refuses a second mount at the same point", func(t *testing.T) {
		folder := testutil.TempTree(t, map[string]string{"f.dat": "data"})
		store := testutil.NewFakeObjectStore("test-bucket")
		svc, _ := newTestService(t, store, testTarget(froster.ClassStandard))

		if err := svc.Archive(ctx, []string{folder}, froster.ArchiveFlags{}); err != nil {
			t.Fatalf("Archive() error = %v", err)
		}
		if err := svc.Mount(ctx, folder, ""); err != nil {
			t.Fatalf("first Mount() error = %v", err)
		}
		err := svc.Mount(ctx, folder, "")
		if !errors.Is(err, froster.ErrConflict) {
			t.Fatalf("second Mount() error = %v, want ErrConflict", err)
		}
	})

	t.Run("unmounting an unmounted path succeeds", func(t *testing.T) {
		store := testutil.NewFakeObjectStore("test-bucket")
		svc, _ := newTestService(t, store, testTarget(froster.ClassStandard))

		if err := svc.Unmount(ctx, "/definitely/not/mounted"); err != nil {
			t.Fatalf("Unmount() error = %v", err)
		}
	})

	t.Run("unmount removes a live mount", func(t *testing.T) {
		folder := testutil.TempTree(t, map[string]string{"f.dat": "data"})
		store := testutil.NewFakeObjectStore("test-bucket")
		svc, _ := newTestService(t, store, testTarget(froster.ClassStandard))

		if err := svc.Archive(ctx, []string{folder}, froster.ArchiveFlags{}); err != nil {
			t.Fatalf("Archive() error = %v", err)
		}
		if err := svc.Mount(ctx, folder, ""); err != nil {
			t.Fatalf("Mount() error = %v", err)
		}
		if err := svc.Unmount(ctx, folder); err != nil {
			t.Fatalf("Unmount() error = %v", err)
		}
		mounts, err := svc.Mounts()
		if err != nil {
			t.Fatalf("Mounts() error = %v", err)
		}
		if len(mounts) != 0 {
			t.Fatalf("mounts = %v, want none", mounts)
		}
	})
}
