package main

import (
	"flag"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/retutils/retroproxy/transform"
	log "github.com/sirupsen/logrus"
)

// Runs the content pipeline over a local file, to preview what a legacy
// browser receives through the proxy.

type Config struct {
	in         string
	out        string
	mediaType  string
	pageURL    string
	sourceCS   string
	targetCS   string
	baseURL    string
	imageWidth int
}

func loadConfig(args []string) (*Config, error) {
	config := new(Config)
	fs := flag.NewFlagSet("downgrade", flag.ContinueOnError)
	fs.StringVar(&config.in, "in", "-", "input file, - for stdin")
	fs.StringVar(&config.out, "out", "-", "output file, - for stdout")
	fs.StringVar(&config.mediaType, "type", "", "media type of the input, guessed from -in when empty")
	fs.StringVar(&config.pageURL, "url", "", "url the input was fetched from")
	fs.StringVar(&config.sourceCS, "source_charset", transform.DefaultSourceCharset, "charset of the input")
	fs.StringVar(&config.targetCS, "target_charset", transform.DefaultTargetCharset, "charset of the output")
	fs.StringVar(&config.baseURL, "base_url", "", "proxy base url for image references")
	fs.IntVar(&config.imageWidth, "image_max_width", 0, "shrink wider images, 0 keeps the size")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return config, nil
}

func main() {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	config, err := loadConfig(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
	if err := Run(config, os.Stdin, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func Run(config *Config, stdin io.Reader, stdout io.Writer) error {
	mediaType := config.mediaType
	if mediaType == "" {
		mediaType = mime.TypeByExtension(filepath.Ext(config.in))
	}
	if mediaType == "" {
		return fmt.Errorf("cannot guess the media type of %q, set -type", config.in)
	}

	var pageURL *url.URL
	if config.pageURL != "" {
		u, err := url.Parse(config.pageURL)
		if err != nil {
			return fmt.Errorf("-url: %w", err)
		}
		pageURL = u
	}

	d, err := transform.NewDispatcher(transform.Options{
		SourceCharset:        config.sourceCS,
		TargetCharset:        config.targetCS,
		BaseURL:              config.baseURL,
		MaxImageWidth:        config.imageWidth,
		ResolveRelativeLinks: pageURL != nil,
	})
	if err != nil {
		return err
	}

	var r io.Reader = stdin
	if config.in != "-" {
		f, err := os.Open(config.in)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	out := d.Dispatch(transform.Envelope{
		URL:        pageURL,
		StatusCode: http.StatusOK,
		MediaType:  mediaType,
		Header:     http.Header{"Content-Type": {mediaType}},
		Body:       body,
	})
	if out.Err != nil {
		return fmt.Errorf("%v branch failed: %w", out.Kind, out.Err)
	}
	log.WithFields(log.Fields{
		"kind":         out.Kind.String(),
		"content-type": out.ContentType(),
	}).Infof("%d -> %d bytes", len(body), len(out.Body))

	if config.out == "-" {
		_, err = stdout.Write(out.Body)
		return err
	}
	return os.WriteFile(config.out, out.Body, 0644)
}
