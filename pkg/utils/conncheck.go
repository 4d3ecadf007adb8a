package utils

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"time"

	"github.com/mpapenbr/simcoach/log"
)

const retryInterval = 200 * time.Millisecond

// WaitForTCP dials addr until it accepts a connection, ctx is done or
// timeout is reached.
func WaitForTCP(ctx context.Context, addr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	log.Debug("wait for tcp connection",
		log.String("addr", addr),
		log.Duration("timeout", timeout))
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			log.Debug("tcp connection successful",
				log.String("addr", addr),
				log.Duration("duration", time.Since(start)))
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s could not be reached after %v", addr, timeout)
		case <-time.After(retryInterval):
		}
	}
}

// WaitForHTTPResponse polls url until any HTTP response arrives.
func WaitForHTTPResponse(ctx context.Context, url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	log.Debug("wait for http request",
		log.String("url", url),
		log.Duration("timeout", timeout))
	cli := &http.Client{}
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return err
		}
		if resp, err := cli.Do(req); err == nil {
			resp.Body.Close()
			log.Debug("http request successful",
				log.String("url", url),
				log.Duration("duration", time.Since(start)))
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s could not be reached after %v", url, timeout)
		case <-time.After(retryInterval):
		}
	}
}

// ExtractFromDBURL returns host:port of a postgres url, default port 5432.
func ExtractFromDBURL(url string) string {
	return hostPort(
		"^postgres(ql)?://(.*@)?(?P<addr>(?P<host>[^:/?]*)(:(?P<port>\\d+))?)(/.*)?$",
		url, "5432")
}

// ExtractFromNatsURL returns host:port of a nats url, default port 4222.
func ExtractFromNatsURL(url string) string {
	return hostPort(
		"^(nats|tls)://(.*@)?(?P<addr>(?P<host>[^:/?,]*)(:(?P<port>\\d+))?)([/,].*)?$",
		url, "4222")
}

func hostPort(regEx, url, defaultPort string) string {
	param := resolveRegex(regEx, url)
	if len(param) == 0 || param["host"] == "" {
		return ""
	}
	if port, ok := param["port"]; ok && port != "" {
		return param["addr"] // if port is found, the addr contains our wanted value
	}
	return fmt.Sprintf("%s:%s", param["addr"], defaultPort)
}

func resolveRegex(regEx, url string) (paramsMap map[string]string) {
	compRegEx := regexp.MustCompile(regEx)
	match := compRegEx.FindStringSubmatch(url)

	paramsMap = make(map[string]string)
	for i, name := range compRegEx.SubexpNames() {
		if i > 0 && i < len(match) && name != "" {
			paramsMap[name] = match[i]
		}
	}
	return paramsMap
}
