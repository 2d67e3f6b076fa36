// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package fsutil provides the file-move and copy primitives the action
// handlers build on.
package fsutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"golang.org/x/time/rate"
)

// copyChunk is the transfer unit for throttled copies.
const copyChunk = 256 * 1024

// EnsureDir creates dir and any missing parents.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return nil
}

// IsRegularFile checks if path exists and is a regular file (not directory, device, etc).
// Returns error if not.
func IsRegularFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", path)
	}
	return nil
}

// CopyFile copies src to dst, preserving the source mode and syncing the
// destination before returning. dst is truncated if it exists.
func CopyFile(src, dst string) error {
	return copyFile(context.Background(), src, dst, nil)
}

// CopyFileThrottled is CopyFile with a sustained throughput cap in bytes
// per second. A cap of zero or less copies at full speed. Cancelling ctx
// aborts the transfer and removes the partial destination.
func CopyFileThrottled(ctx context.Context, src, dst string, bytesPerSec int64) error {
	var lim *rate.Limiter
	if bytesPerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(bytesPerSec), copyChunk)
	}
	return copyFile(ctx, src, dst, lim)
}

func copyFile(ctx context.Context, src, dst string, lim *rate.Limiter) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	if err := transfer(ctx, out, in, lim); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copy data: %w", err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return fmt.Errorf("sync destination: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close destination: %w", err)
	}
	return nil
}

// transfer streams src into dst, pacing writes through lim when set.
func transfer(ctx context.Context, dst io.Writer, src io.Reader, lim *rate.Limiter) error {
	if lim == nil {
		_, err := io.Copy(dst, src)
		return err
	}
	buf := make([]byte, copyChunk)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if err := lim.WaitN(ctx, n); err != nil {
				return err
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

// SafeMove renames src to dst. When the two paths live on different
// filesystems the rename fails with EXDEV and the move degrades to
// copy-then-remove; the destination still appears atomically because the
// copy lands in a temp file first.
func SafeMove(src, dst string) error {
	return SafeMoveThrottled(context.Background(), src, dst, 0)
}

// SafeMoveThrottled is SafeMove with the cross-device fallback's copy
// capped at bytesPerSec. Same-filesystem renames are instant and never
// throttled.
func SafeMoveThrottled(ctx context.Context, src, dst string, bytesPerSec int64) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !IsCrossDevice(err) {
		return err
	}
	return copyThenRemove(ctx, src, dst, bytesPerSec)
}

// copyThenRemove stages the copy next to dst, renames it into place, then
// removes the source.
func copyThenRemove(ctx context.Context, src, dst string, bytesPerSec int64) error {
	tmp := dst + ".part"
	if err := CopyFileThrottled(ctx, src, tmp, bytesPerSec); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("finalize move: %w", err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove source after copy: %w", err)
	}
	return nil
}

// IsCrossDevice reports whether err is a cross-device rename failure.
func IsCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return errors.Is(linkErr.Err, syscall.EXDEV)
	}
	return errors.Is(err, syscall.EXDEV)
}
