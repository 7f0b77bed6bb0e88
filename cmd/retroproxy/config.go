package main

import (
	"flag"
	"fmt"

	"github.com/retutils/retroproxy/internal/helper"
	"github.com/retutils/retroproxy/transform"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	version bool // show retroproxy version

	Addr string `json:"addr" yaml:"addr"` // proxy listen addr

	SourceCharset  string `json:"source_charset" yaml:"source_charset"`
	TargetCharset  string `json:"target_charset" yaml:"target_charset"`
	ImageQuality   int    `json:"image_quality" yaml:"image_quality"`
	ImageMaxWidth  int    `json:"image_max_width" yaml:"image_max_width"`
	ImageMaxHeight int    `json:"image_max_height" yaml:"image_max_height"`
	BaseURL        string `json:"base_url" yaml:"base_url"`
	ProxyImagePath string `json:"proxy_image_path" yaml:"proxy_image_path"`
	ResolveLinks   bool   `json:"resolve_links" yaml:"resolve_links"`

	BypassHosts []string `json:"bypass_hosts" yaml:"bypass_hosts"` // hosts served decoded but untransformed

	Upstream          string   `json:"upstream" yaml:"upstream"` // upstream proxy
	SslInsecure       bool     `json:"ssl_insecure" yaml:"ssl_insecure"`
	TlsFingerprint    string   `json:"tls_fingerprint" yaml:"tls_fingerprint"`
	DnsResolvers      []string `json:"dns_resolvers" yaml:"dns_resolvers"`
	DnsRetries        int      `json:"dns_retries" yaml:"dns_retries"`
	StreamLargeBodies int64    `json:"stream_large_bodies" yaml:"stream_large_bodies"`

	Debug   int    `json:"debug" yaml:"debug"` // debug mode: 1 - print debug log, 2 - show debug from
	LogFile string `json:"log_file" yaml:"log_file"`

	filename string // read config from the filename
}

func loadConfigFromFile(filename string) (*Config, error) {
	var config Config
	if err := helper.NewStructFromFile(filename, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

func defineFlags(fs *flag.FlagSet, config *Config) {
	def := transform.DefaultOptions()

	fs.BoolVar(&config.version, "version", config.version, "show retroproxy version")
	fs.StringVar(&config.Addr, "addr", config.Addr, "proxy listen addr")
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	fs.StringVar(&config.SourceCharset, "source_charset", config.SourceCharset, "charset assumed for upstream pages")
	if config.SourceCharset == "" {
		config.SourceCharset = def.SourceCharset
	}
	fs.StringVar(&config.TargetCharset, "target_charset", config.TargetCharset, "charset sent to the legacy browser")
	if config.TargetCharset == "" {
		config.TargetCharset = def.TargetCharset
	}
	fs.IntVar(&config.ImageQuality, "image_quality", config.ImageQuality, "jpeg quality of transcoded images, 1-100")
	if config.ImageQuality == 0 {
		config.ImageQuality = def.ImageQuality
	}
	fs.IntVar(&config.ImageMaxWidth, "image_max_width", config.ImageMaxWidth, "shrink wider images, 0 keeps the size")
	fs.IntVar(&config.ImageMaxHeight, "image_max_height", config.ImageMaxHeight, "shrink taller images, 0 keeps the size")
	fs.StringVar(&config.BaseURL, "base_url", config.BaseURL, "proxy base url for image references, e.g. http://192.168.0.2:8080")
	fs.StringVar(&config.ProxyImagePath, "proxy_image_path", config.ProxyImagePath, "path of the image route")
	if config.ProxyImagePath == "" {
		config.ProxyImagePath = def.ProxyImagePath
	}
	fs.BoolVar(&config.ResolveLinks, "resolve_links", config.ResolveLinks, "resolve relative links against the page url")
	fs.Var((*arrayValue)(&config.BypassHosts), "bypass_hosts", "a list of hosts passed through untransformed, globs allowed")

	fs.StringVar(&config.Upstream, "upstream", config.Upstream, "upstream proxy")
	fs.BoolVar(&config.SslInsecure, "ssl_insecure", config.SslInsecure, "not verify upstream server SSL/TLS certificates.")
	fs.StringVar(&config.TlsFingerprint, "tls_fingerprint", config.TlsFingerprint, "TLS fingerprint to emulate (chrome, firefox, ios, android, edge, safari, 360, qq, random)")
	fs.Var((*arrayValue)(&config.DnsResolvers), "dns_resolvers", "a list of DNS resolvers")
	fs.IntVar(&config.DnsRetries, "dns_retries", config.DnsRetries, "number of DNS resolution retries")
	if config.DnsRetries == 0 {
		config.DnsRetries = 2
	}
	fs.Int64Var(&config.StreamLargeBodies, "stream_large_bodies", config.StreamLargeBodies, "stream bodies at least this many bytes untransformed")
	if config.StreamLargeBodies == 0 {
		config.StreamLargeBodies = 1024 * 1024 * 5
	}

	fs.IntVar(&config.Debug, "debug", config.Debug, "debug mode: 1 - print debug log, 2 - show debug from")
	fs.StringVar(&config.LogFile, "log_file", config.LogFile, "log file path")
	fs.StringVar(&config.filename, "f", config.filename, "read config from the filename (json or yaml)")
}

// loadConfig reads the -f file, if any, then lets flags override it.
func loadConfig(args []string) (*Config, error) {
	filename := ""
	for i, arg := range args {
		if (arg == "-f" || arg == "--f") && i+1 < len(args) {
			filename = args[i+1]
			break
		}
	}

	config := new(Config)
	if filename != "" {
		fileConfig, err := loadConfigFromFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read config from %v: %w", filename, err)
		}
		config = fileConfig
		log.Debugf("Loaded config from file %v: %+v", filename, config)
	}

	fs := flag.NewFlagSet("retroproxy", flag.ContinueOnError)
	defineFlags(fs, config)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) transformOptions() transform.Options {
	return transform.Options{
		SourceCharset:        c.SourceCharset,
		TargetCharset:        c.TargetCharset,
		ImageQuality:         c.ImageQuality,
		MaxImageWidth:        c.ImageMaxWidth,
		MaxImageHeight:       c.ImageMaxHeight,
		ProxyImagePath:       c.ProxyImagePath,
		BaseURL:              c.BaseURL,
		ResolveRelativeLinks: c.ResolveLinks,
	}
}

// arrayValue implements flag.Value for repeatable flags
type arrayValue []string

func (a *arrayValue) String() string {
	return fmt.Sprint(*a)
}

func (a *arrayValue) Set(value string) error {
	*a = append(*a, value)
	return nil
}
