package main

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRun_Stylesheet(t *testing.T) {
	config, err := loadConfig([]string{"-type", "text/css", "-target_charset", "utf-8"})
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	css := "@media (max-width: 600px) { .a { color: red } }\n.b { display: flex; color: blue; }"
	if err := Run(config, strings.NewReader(css), &out); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out.String(), "@media") || strings.Contains(out.String(), "flex") {
		t.Errorf("stylesheet not downgraded: %q", out.String())
	}
	if !strings.Contains(out.String(), "color:blue") {
		t.Errorf("plain declarations lost: %q", out.String())
	}
}

func TestRun_FilesAndGuessedType(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "pic.png")
	outPath := filepath.Join(dir, "pic.jpg")

	var buf bytes.Buffer
	png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 32)))
	os.WriteFile(in, buf.Bytes(), 0644)

	config, err := loadConfig([]string{"-in", in, "-out", outPath, "-image_max_width", "16"})
	if err != nil {
		t.Fatal(err)
	}
	if err := Run(config, nil, nil); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a jpeg: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 16 || b.Dy() != 8 {
		t.Errorf("want 16x8, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestRun_Markup(t *testing.T) {
	config, err := loadConfig([]string{"-type", "text/html", "-url", "http://site.test/news/", "-base_url", "http://10.0.0.2:8080"})
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	page := `<html><body><a href="a.html">a</a><img src="b.png"></body></html>`
	if err := Run(config, strings.NewReader(page), &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), `href="http://site.test/news/a.html"`) {
		t.Errorf("link not resolved: %s", out.String())
	}
	if !strings.Contains(out.String(), "http://10.0.0.2:8080/proxy_image?url=http%3A%2F%2Fsite.test%2Fnews%2Fb.png") {
		t.Errorf("image not routed: %s", out.String())
	}
}

func TestRun_Errors(t *testing.T) {
	config, _ := loadConfig([]string{"-in", "noext"})
	if err := Run(config, nil, nil); err == nil {
		t.Error("expected error when the type cannot be guessed")
	}

	config, _ = loadConfig([]string{"-type", "image/png"})
	if err := Run(config, strings.NewReader("not a png"), &bytes.Buffer{}); err == nil {
		t.Error("expected error for a broken image")
	}

	config, _ = loadConfig([]string{"-type", "text/css", "-target_charset", "klingon"})
	if err := Run(config, strings.NewReader("a{}"), &bytes.Buffer{}); err == nil {
		t.Error("expected error for an unknown charset")
	}

	if _, err := loadConfig([]string{"-nope"}); err == nil {
		t.Error("expected error for an unknown flag")
	}
}
