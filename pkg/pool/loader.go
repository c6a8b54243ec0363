package pool

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"harvester/pkg/errors"
	"harvester/pkg/logger"
	"harvester/pkg/models"
)

// LoadCredentials reads a colon-delimited credentials file, one entry
// per line: identifier:secret:recoveryContact:recoverySecret:sessionToken.
// Blank lines, comments and malformed lines are skipped with a warning.
func LoadCredentials(path string, log logger.Logger) ([]*models.Credential, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeConfig, "open credentials file", err)
	}
	defer f.Close()

	var creds []*models.Credential
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ":")
		if len(parts) != 5 {
			log.WarnWithFields("skipping malformed credential line", map[string]interface{}{
				"file": path,
				"line": lineNo,
			})
			continue
		}
		creds = append(creds, &models.Credential{
			Username:      parts[0],
			Password:      parts[1],
			Email:         parts[2],
			EmailPassword: parts[3],
			SessionToken:  parts[4],
			Health:        1.0,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrorTypeConfig, "read credentials file", err)
	}
	if len(creds) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "credentials file contains no usable entries")
	}
	return creds, nil
}

// LoadProxies reads a colon-delimited proxies file, one entry per
// line: host:port:username:password. Malformed lines are skipped.
func LoadProxies(path string, log logger.Logger) ([]*models.ProxyEndpoint, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeConfig, "open proxies file", err)
	}
	defer f.Close()

	var proxies []*models.ProxyEndpoint
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ":")
		if len(parts) != 4 {
			log.WarnWithFields("skipping malformed proxy line", map[string]interface{}{
				"file": path,
				"line": lineNo,
			})
			continue
		}
		port, err := strconv.Atoi(parts[1])
		if err != nil || port <= 0 || port > 65535 {
			log.WarnWithFields("skipping proxy with invalid port", map[string]interface{}{
				"file": path,
				"line": lineNo,
			})
			continue
		}
		proxies = append(proxies, &models.ProxyEndpoint{
			ID:       len(proxies),
			Host:     parts[0],
			Port:     port,
			Username: parts[2],
			Password: parts[3],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrorTypeConfig, "read proxies file", err)
	}
	if len(proxies) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "proxies file contains no usable entries")
	}
	return proxies, nil
}
