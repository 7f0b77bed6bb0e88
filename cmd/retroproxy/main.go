package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	rawLog "log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/retutils/retroproxy/addon"
	"github.com/retutils/retroproxy/proxy"
	"github.com/retutils/retroproxy/transform"
	log "github.com/sirupsen/logrus"
)

func main() {
	config, err := loadConfig(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := Run(ctx, config); err != nil {
		log.Fatal(err)
	}
}

// Run serves the proxy until ctx is done.
func Run(ctx context.Context, config *Config) error {
	if config.version {
		fmt.Println("retroproxy: " + proxy.Version)
		return nil
	}

	logFile, err := setupLogging(config)
	if err != nil {
		return err
	}
	if logFile != nil {
		defer logFile.Close()
	}

	dispatcher, err := transform.NewDispatcher(config.transformOptions())
	if err != nil {
		return err
	}
	p, transformer, err := newProxy(config, dispatcher)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- p.Start() }()

	if addr := p.Addr(); addr != "" {
		logBanner(addr, dispatcher.TargetCharset())
	}

	select {
	case err := <-errCh:
		p.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = p.Shutdown(shutdownCtx)
	<-errCh

	stats := transformer.Stats()
	log.WithFields(log.Fields{
		"transformed": stats.Transformed,
		"failed":      stats.Failed,
		"untouched":   stats.Untouched,
		"bypassed":    stats.Bypassed,
	}).Info("Proxy stopped")
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func setupLogging(config *Config) (*os.File, error) {
	if config.Debug > 0 {
		rawLog.SetFlags(rawLog.LstdFlags | rawLog.Lshortfile)
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
	log.SetReportCaller(config.Debug == 2)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	if config.LogFile == "" {
		log.SetOutput(os.Stdout)
		return nil, nil
	}
	f, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	log.SetOutput(io.MultiWriter(os.Stdout, f))
	return f, nil
}

func newProxy(config *Config, dispatcher *transform.Dispatcher) (*proxy.Proxy, *addon.Transformer, error) {
	var bypass []addon.HostRule
	for _, s := range config.BypassHosts {
		rule, err := addon.ParseHostRule(s)
		if err != nil {
			return nil, nil, fmt.Errorf("bypass_hosts %q: %w", s, err)
		}
		bypass = append(bypass, rule)
	}

	p, err := proxy.NewProxy(&proxy.Options{
		Debug:             config.Debug,
		Addr:              config.Addr,
		StreamLargeBodies: config.StreamLargeBodies,
		SslInsecure:       config.SslInsecure,
		Upstream:          config.Upstream,
		TlsFingerprint:    config.TlsFingerprint,
		DnsResolvers:      config.DnsResolvers,
		DnsRetries:        config.DnsRetries,
	})
	if err != nil {
		return nil, nil, err
	}

	transformer := addon.NewTransformer(dispatcher, bypass)
	p.AddAddon(&proxy.LogAddon{})
	p.AddAddon(addon.NewProxyImage(dispatcher.Options().ProxyImagePath))
	p.AddAddon(transformer)

	return p, transformer, nil
}

func logBanner(addr, charset string) {
	log.Infof("retroproxy %v listening at %v, serving %v pages", proxy.Version, addr, charset)
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return
	}
	for _, ip := range lanAddrs() {
		log.Infof("Set the browser proxy to %v", net.JoinHostPort(ip, port))
	}
}

// lanAddrs lists the non-loopback IPv4 addresses of this host.
func lanAddrs() []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	var ips []string
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() || ipNet.IP.To4() == nil {
			continue
		}
		ips = append(ips, ipNet.IP.String())
	}
	return ips
}
