package openstack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/sony/gobreaker"

	"github.com/shaiso/Dozilab/internal/domain"
)

// statusCode возвращает HTTP-код ошибки OpenStack или 0.
func statusCode(err error) int {
	var uerr gophercloud.ErrUnexpectedResponseCode
	if errors.As(err, &uerr) {
		return uerr.Actual
	}
	return 0
}

func isNotFound(err error) bool {
	return gophercloud.ResponseCodeIs(err, http.StatusNotFound)
}

func mentionsQuota(err error) bool {
	var uerr gophercloud.ErrUnexpectedResponseCode
	if !errors.As(err, &uerr) {
		return false
	}
	return strings.Contains(strings.ToLower(string(uerr.Body)), "quota")
}

// isTransient — ошибка, которая может пройти при повторе.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	switch code := statusCode(err); {
	case code == http.StatusUnauthorized:
		return true
	case code == http.StatusForbidden:
		return !mentionsQuota(err)
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	case code != 0:
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// classify превращает ошибку транспорта в domain.Error.
// Сообщение безопасно для пользователя, исходная ошибка сохраняется в Err.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var derr *domain.Error
	if errors.As(err, &derr) {
		return err
	}

	code := statusCode(err)
	if isTransient(err) {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return domain.NewTransientError("openstack is unavailable (circuit open)", err)
		case code == http.StatusUnauthorized, code == http.StatusForbidden:
			return domain.NewTransientError("openstack authentication expired", err)
		case code != 0:
			return domain.NewTransientError(fmt.Sprintf("openstack %s failed with HTTP %d", op, code), err)
		default:
			return domain.NewTransientError(fmt.Sprintf("openstack %s failed: connection error", op), err)
		}
	}

	switch {
	case code == http.StatusRequestEntityTooLarge, code == http.StatusForbidden:
		return domain.NewFatalError("openstack quota exceeded", err)
	case code != 0:
		return domain.NewFatalError(fmt.Sprintf("openstack rejected %s with HTTP %d", op, code), err)
	default:
		return domain.NewFatalError(fmt.Sprintf("openstack %s failed", op), err)
	}
}
