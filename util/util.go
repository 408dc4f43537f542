// Copyright 2017-2019, Square, Inc.

package util

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io/ioutil"
	"net/http"

	"github.com/square/peflow/config"
)

// TLSConfig builds the client side of mutual TLS between ranks: the rank's
// cert and key, and the CA that signed its peers' certs.
func TLSConfig(cfg config.TLS) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading key pair %s: %s", cfg.CertFile, err)
	}
	pem, err := ioutil.ReadFile(cfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("reading CA file: %s", err)
	}
	peers := x509.NewCertPool()
	if !peers.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%s: no PEM certificates found", cfg.CAFile)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      peers,
	}, nil
}

// NewHTTPClient makes the client a rank uses to reach its peers. It uses TLS
// only if all three files are set.
func NewHTTPClient(cfg config.HTTPClient) (*http.Client, error) {
	if cfg.CertFile == "" || cfg.KeyFile == "" || cfg.CAFile == "" {
		return &http.Client{}, nil
	}
	tlsConfig, err := TLSConfig(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("peer client: %s", err)
	}
	return &http.Client{
		Transport: &http.Transport{TLSClientConfig: tlsConfig},
	}, nil
}
