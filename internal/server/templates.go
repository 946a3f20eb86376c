package server

import (
	"embed"
	"html/template"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/paydesk/internal/payment/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

var templateFuncs = template.FuncMap{
	"money": func(d decimal.Decimal) string {
		return d.StringFixed(2)
	},
	"minor": func(amount int64) string {
		return paymentdomain.MinorToMajor(amount).StringFixed(2)
	},
	"upper": strings.ToUpper,
	"datetime": func(t time.Time) string {
		return t.UTC().Format("Jan 2, 2006 15:04 UTC")
	},
}

func mustLoadTemplates() *template.Template {
	return template.Must(template.New("pages").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html"))
}

// render adds the signed-in user, when any, to every page.
func (s *Server) render(c *gin.Context, status int, name string, data gin.H) {
	if data == nil {
		data = gin.H{}
	}
	if _, ok := data["User"]; !ok {
		if user, ok := currentUser(c); ok {
			data["User"] = user
		}
	}
	c.HTML(status, name, data)
}
