package api

import (
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"

	"pulseboard/internal/oauth"
)

// callbackPage is the popup landing page. It hands the oauth result to the
// window that opened the popup and closes itself; the token exchange happens
// later on the authenticated exchange endpoint, never here.
var callbackPage = template.Must(template.New("callback").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>Connecting</title></head>
<body>
<p>Finishing up. This window closes itself.</p>
<script>
(function () {
  var message = {
    type: {{.Msg.Type}},
    code: {{.Msg.Code}},
    state: {{.Msg.State}},
    error: {{.Msg.Error}}
  };
  if (window.opener) {
    window.opener.postMessage(message, {{.Origin}});
  }
  window.close();
})();
</script>
</body>
</html>
`))

type callbackView struct {
	Msg    oauth.CallbackMessage
	Origin string
}

func (s *Server) oauthCallback(c *gin.Context) {
	providerName := c.Param("provider")
	code := c.Query("code")
	state := c.Query("state")
	providerErr := c.Query("error")

	ctx, cancel := s.ctx(c)
	defer cancel()

	// the page always renders; the message carries success or failure
	msg, err := s.oauth.HandleCallback(ctx, providerName, code, state, providerErr)
	if err != nil {
		s.log.Info("oauth_callback_rejected", "provider", providerName, "error", err)
	}

	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := callbackPage.Execute(c.Writer, callbackView{Msg: msg, Origin: s.cfg.AppOrigin}); err != nil {
		s.log.Error("callback_render_failed", "error", err)
	}
}
