package security

import (
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
)

// NewSafeClient は外部IdPへの通信に使うSSRF防止機能付きHTTPクライアントを生成する。
// httpsの443番ポートのみ許可し、プライベートIP・ループバック・リンクローカル・
// メタデータIPへの接続はDNS解決後のアドレスで拒否される。
func NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	return safeurl.Client(config).Client
}
