// Пакет tlsconfig — клиентская TLS-конфигурация для исходящих соединений
// (HTTP backend-ы, JWKS endpoint).
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// Client возвращает конфигурацию клиента.
// caCertPath — PEM с дополнительными корневыми сертификатами, добавляемыми
// к системному пулу (пустая строка — только системный пул).
// Файл без PEM-блоков считается ошибкой: иначе доверие молча сводится
// к системному пулу.
func Client(caCertPath string, skipVerify bool) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: skipVerify, //nolint:gosec // CS_TLS_SKIP_VERIFY
	}
	if caCertPath == "" {
		return cfg, nil
	}

	pool, err := rootPool(caCertPath)
	if err != nil {
		return nil, err
	}
	cfg.RootCAs = pool
	return cfg, nil
}

func rootPool(caCertPath string) (*x509.CertPool, error) {
	data, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата %s: %w", caCertPath, err)
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("CA-сертификат %s не содержит PEM-блоков", caCertPath)
	}
	return pool, nil
}
