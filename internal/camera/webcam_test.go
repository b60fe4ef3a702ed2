package camera

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWebcamDriver_SavesPreviewFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cheese.jpg")
	frame := &Frame{JPEG: []byte{0xFF, 0xD8, 0x01, 0xFF, 0xD9}}

	result := NewWebcamDriver().CapturePhoto(context.Background(), CaptureRequest{TargetPath: path, PreviewFrame: frame}, 3)

	if !result.Success || result.Attempts != 1 {
		t.Fatalf("Expected success, got %+v", result)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read photo: %v", err)
	}
	if !bytes.Equal(data, frame.JPEG) {
		t.Error("Saved photo differs from preview frame")
	}
}

func TestWebcamDriver_NoFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cheese.jpg")

	result := NewWebcamDriver().CapturePhoto(context.Background(), CaptureRequest{TargetPath: path}, 3)

	if result.Success {
		t.Fatal("Expected failure without a frame")
	}
	if !errors.Is(result.Err, ErrCaptureFailed) {
		t.Errorf("Expected ErrCaptureFailed, got %v", result.Err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("No file should be written")
	}
}

func TestWebcamDriver_DoesNotOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cheese.jpg")
	earlier := []byte("earlier photo")
	if err := os.WriteFile(path, earlier, 0o644); err != nil {
		t.Fatalf("Failed to write existing photo: %v", err)
	}
	frame := &Frame{JPEG: []byte{0xFF, 0xD8, 0x01, 0xFF, 0xD9}}

	result := NewWebcamDriver().CapturePhoto(context.Background(), CaptureRequest{TargetPath: path, PreviewFrame: frame}, 3)

	if result.Success {
		t.Fatal("Expected failure when the target already exists")
	}
	if !errors.Is(result.Err, ErrCaptureFailed) {
		t.Errorf("Expected ErrCaptureFailed, got %v", result.Err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read photo: %v", err)
	}
	if !bytes.Equal(data, earlier) {
		t.Error("Existing photo was overwritten")
	}
}
