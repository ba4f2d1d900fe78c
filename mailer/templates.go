package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"bitbucket.org/mmdatafocus/photoid_backend/config"
	"bitbucket.org/mmdatafocus/photoid_backend/models"
	"bitbucket.org/mmdatafocus/photoid_backend/utils"
)

type requestEmailData struct {
	SiteTitle    string
	OrderNumber  string
	CustomerName string
	UploadURL    string
	CustomNote   string
	Heading      string
	LineItems    []models.OrderLineItem
}

type adminEmailData struct {
	SiteTitle        string
	OrderNumber      string
	CustomerName     string
	OriginalFilename string
	SizeBytes        int64
}

const defaultRequestSubject = "Action Required: Please upload your ID for order #{order_number}"
const defaultRequestHeading = "Please upload your ID"

var requestTemplate = template.Must(template.New("request").Parse(`<h2>{{.Heading}}</h2>
<p>Hi {{.CustomerName}},</p>
<p>We need a valid photo ID to verify your identity for order <strong>#{{.OrderNumber}}</strong>.
Please use the secure link below to upload a JPG or PNG copy of your ID. The link is valid for 7 days.</p>
<p><a href="{{.UploadURL}}">Upload your photo ID</a></p>
{{if .CustomNote}}<p>Additional note from our team:</p>
<blockquote>{{.CustomNote}}</blockquote>{{end}}
<h3>Order summary</h3>
<table>
<tr><th align="left">Product</th><th align="right">Qty</th><th align="right">Amount</th></tr>
{{range .LineItems}}<tr><td>{{.ProductName}}</td><td align="right">{{.Quantity}}</td><td align="right">{{.Amount}}</td></tr>
{{end}}</table>
<p>{{.SiteTitle}}</p>
`))

var adminTemplate = template.Must(template.New("admin").Parse(`<h2>Photo ID Uploaded</h2>
<p>A customer uploaded a photo ID for order <strong>#{{.OrderNumber}}</strong>.</p>
<ul>
<li>Customer: {{.CustomerName}}</li>
<li>File: {{.OriginalFilename}} ({{.Size}})</li>
</ul>
<p>{{.SiteTitle}}</p>
`))

// renderRequestSubject applies the configurable subject with the same
// placeholder names store owners already know.
func renderRequestSubject(s config.Settings, order *models.Order) string {
	subject := s.RequestSubject
	if subject == "" {
		subject = defaultRequestSubject
	}
	return ReplaceVariables(subject, map[string]string{
		"{site_title}":    s.SiteTitle,
		"{order_number}":  order.OrderNumber,
		"{customer_name}": order.CustomerName,
	})
}

func renderRequestBody(data requestEmailData) (string, error) {
	if data.Heading == "" {
		data.Heading = defaultRequestHeading
	}
	var buf bytes.Buffer
	if err := requestTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderAdminNotification(data adminEmailData) (subject, body string, err error) {
	subject = fmt.Sprintf("Photo ID Uploaded for Order #%s", data.OrderNumber)
	var buf bytes.Buffer
	err = adminTemplate.Execute(&buf, struct {
		adminEmailData
		Size string
	}{data, utils.FormatBytes(data.SizeBytes)})
	if err != nil {
		return "", "", err
	}
	return subject, buf.String(), nil
}

// ReplaceVariables substitutes {placeholder} tokens in configurable
// subject/heading strings.
func ReplaceVariables(text string, variables map[string]string) string {
	for k, v := range variables {
		text = strings.ReplaceAll(text, k, v)
	}
	return text
}
