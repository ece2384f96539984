package server

import (
	_ "embed"
	"html/template"
)

//go:embed templates/callback.html
var callbackPageTemplateHTML string

var callbackPageTemplate = template.Must(template.New("callback").Parse(callbackPageTemplateHTML))

// CallbackPageData fills the sign-in callback page. The page forwards its
// own URL, fragment included, to CallbackAPI.
type CallbackPageData struct {
	CallbackAPI string
	LoginPath   string
	ReturnPath  string
	CSRFCookie  string
	CSRFHeader  string
}
