package fetcher

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/JakeFAU/article-monitor/internal/crawler"
)

var sslKeywords = []string{"ssl", "tls", "certificate", "x509", "handshake", "net::err_cert_"}

// Classify tags err with a retry category. Errors that already carry a
// category are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var fetchErr *crawler.FetchError
	if errors.As(err, &fetchErr) {
		return err
	}
	return crawler.NewFetchError(categoryFor(err), err)
}

func categoryFor(err error) crawler.Category {
	var (
		certErr     *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalidErr  x509.CertificateInvalidError
		recordErr   tls.RecordHeaderError
	)
	switch {
	case errors.As(err, &certErr), errors.As(err, &unknownAuth), errors.As(err, &hostErr),
		errors.As(err, &invalidErr), errors.As(err, &recordErr):
		return crawler.CategorySSL
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return crawler.CategoryNetwork
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return crawler.CategoryNetwork
	}
	msg := strings.ToLower(rootCause(err).Error())
	for _, keyword := range sslKeywords {
		if strings.Contains(msg, keyword) {
			return crawler.CategorySSL
		}
	}
	return crawler.CategoryNetwork
}

// rootCause follows the wrap chain to the innermost error. Wrappers such as
// *url.Error put the request URL in their message, which must not be matched.
func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// StatusError classifies an HTTP status. It returns nil for 2xx and 3xx.
// Client errors are permanent except those a later attempt with a fresh
// disguise can clear.
func StatusError(status int) error {
	switch {
	case status == 0 || status < 400:
		return nil
	case status == http.StatusForbidden, status == http.StatusRequestTimeout,
		status == http.StatusTooEarly, status == http.StatusTooManyRequests:
		return crawler.NewFetchError(crawler.CategoryNetwork, fmt.Errorf("http status %d", status))
	case status < 500:
		return crawler.NewFetchError(crawler.CategoryPermanent, fmt.Errorf("http status %d", status))
	default:
		return crawler.NewFetchError(crawler.CategoryNetwork, fmt.Errorf("http status %d", status))
	}
}
