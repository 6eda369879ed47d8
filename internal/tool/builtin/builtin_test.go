package builtin

import (
	"context"
	"errors"
	"testing"
)

type fakeResizeBackend struct{ err error }

func (f *fakeResizeBackend) Resize(ctx context.Context, url string, width, height int) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return url + "?resized", nil
}

type fakeGenerateBackend struct{}

func (f *fakeGenerateBackend) Generate(ctx context.Context, prompt, size string) (string, error) {
	return "https://cdn.example.com/generated/1.png", nil
}

func TestResizeImageValidatesArguments(t *testing.T) {
	rt := NewResizeImage(&fakeResizeBackend{})
	ctx := context.Background()

	res, err := rt.Execute(ctx, map[string]any{"width": float64(800)})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Success {
		t.Error("missing url must fail validation")
	}

	res, _ = rt.Execute(ctx, map[string]any{"url": "https://img/a.png"})
	if res.Success {
		t.Error("missing dimensions must fail validation")
	}
}

func TestResizeImageSuccess(t *testing.T) {
	rt := NewResizeImage(&fakeResizeBackend{})

	// JSON 解码的数字是 float64
	res, err := rt.Execute(context.Background(), map[string]any{
		"url":   "https://img/a.png",
		"width": float64(800),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success || res.Cost != 1 {
		t.Fatalf("result = %+v", res)
	}
	data := res.Data.(map[string]any)
	if data["url"] != "https://img/a.png?resized" || data["width"] != 800 {
		t.Errorf("data = %+v", data)
	}
}

func TestResizeImageBackendError(t *testing.T) {
	rt := NewResizeImage(&fakeResizeBackend{err: errors.New("storage down")})

	res, _ := rt.Execute(context.Background(), map[string]any{
		"url": "https://img/a.png", "width": float64(10),
	})
	if res.Success {
		t.Fatal("backend error must produce a failed result")
	}
}

func TestGenerateImage(t *testing.T) {
	gt := NewGenerateImage(&fakeGenerateBackend{})
	ctx := context.Background()

	res, _ := gt.Execute(ctx, map[string]any{})
	if res.Success {
		t.Error("missing prompt must fail")
	}

	res, err := gt.Execute(ctx, map[string]any{"prompt": "a red bicycle"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success || res.Cost != generateImageCost {
		t.Fatalf("result = %+v", res)
	}
	data := res.Data.(map[string]any)
	if data["size"] != "1024x1024" {
		t.Errorf("default size = %v", data["size"])
	}
}
