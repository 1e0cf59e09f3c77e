package conversation

import (
	"fmt"
	"strings"

	"github.com/real-rm/supportbot/internal/constants"
)

// buildDetailsSummary renders the provider's application details response as
// the post-verification greeting. The provider nests everything under
// details; missing fields degrade to placeholders rather than errors.
func buildDetailsSummary(mobile string, data map[string]interface{}, loginURL, buyURL string) string {
	meta := subMap(data, "meta")
	if asString(meta["status"]) != "1" {
		return constants.MsgVerifiedPrefix +
			"**Application Not Found.**\n\n" +
			fmt.Sprintf("No application details found for mobile number **%s**.\n\n", mobile) +
			fmt.Sprintf("[Buy Digital Signature](%s)", buyURL)
	}

	details := subMap(data, "details")
	applicant := subMap(details, "applicantDetails")
	cert := subMap(details, "schemeCertDetails")
	payment := subMap(details, "paymentDetails")
	statusList := subList(details, "statusDetails")

	name := firstNonEmpty(asString(applicant["commonname"]), "Customer")
	location := joinNonEmpty([]string{
		asString(applicant["locality"]),
		asString(applicant["state"]),
		asString(applicant["country"]),
	}, ", ")
	if location == "" {
		location = "N/A"
	}
	org := firstNonEmpty(asString(applicant["organization"]), "N/A")
	product := firstNonEmpty(asString(payment["product"]), asString(cert["certificateClass"]), "Digital Signature")
	invoiceID := firstNonEmpty(asString(payment["INVOICE_ID"]), "N/A")
	payStatus := firstNonEmpty(asString(payment["status"]), "Pending")

	var b strings.Builder
	b.WriteString(constants.MsgVerifiedPrefix)
	b.WriteString("Dear Customer,\n\n")
	fmt.Fprintf(&b, "Below is the status for the registered mobile number %s:\n\n", mobile)
	fmt.Fprintf(&b, "**Name:** %s\n", name)
	fmt.Fprintf(&b, "**Location:** %s\n", location)
	fmt.Fprintf(&b, "**Org:** %s\n", org)
	fmt.Fprintf(&b, "**Product:** %s\n\n", product)
	fmt.Fprintf(&b, "**Timeline:**\n%s\n", buildTimeline(statusList))
	b.WriteString(buildSchemeTable(cert))
	b.WriteString("\n")
	fmt.Fprintf(&b, "**Payment:** %s (Inv: %s)\n\n", payStatus, invoiceID)
	fmt.Fprintf(&b, "[Click Here to Login](%s)", loginURL)
	return b.String()
}

// buildTimeline condenses the provider's status history into milestone lines.
func buildTimeline(statusList []map[string]interface{}) string {
	findDate := func(term string) string {
		term = strings.ToLower(term)
		for _, s := range statusList {
			if strings.Contains(strings.ToLower(asString(s["status"])), term) {
				return asString(s["dateAndTime"])
			}
		}
		return ""
	}

	var b strings.Builder
	if sub := findDate("Application Submitted"); sub != "" {
		fmt.Fprintf(&b, "Application Submitted on %s<br>", sub)
	}
	if findDate("Mobile verification") != "" || findDate("Email verification") != "" {
		b.WriteString("Mobile and Email verifications completed<br>")
	}

	activated := firstNonEmpty(findDate("Account Activated"), findDate("Account Approved"))
	if activated != "" {
		fmt.Fprintf(&b, "Account Approved on %s<br>", activated)
	} else {
		current := "Pending"
		if len(statusList) > 0 {
			current = firstNonEmpty(asString(statusList[len(statusList)-1]["status"]), "Pending")
		}
		fmt.Fprintf(&b, "Current Status: %s<br>", current)
	}
	return b.String()
}

// buildSchemeTable renders the certificate fields as an inline HTML card the
// chat frontend displays verbatim.
func buildSchemeTable(cert map[string]interface{}) string {
	var b strings.Builder
	b.WriteString(`<div style="background-color: #f9f9f9; border-radius: 8px; padding: 10px; margin: 10px 0; border: 1px solid #eee;">`)
	b.WriteString(`<h4 style="margin: 0 0 10px 0; color: #0056b3;">Scheme Details</h4>`)
	b.WriteString(`<table style="width: 100%; border-collapse: collapse; font-size: 13px;">`)

	rows := []struct {
		key   string
		label string
	}{
		{"applicationNo", "App No"},
		{"certificateClass", "Class"},
		{"validity", "Validity"},
		{"expiryDate", "Expiry"},
	}
	for _, row := range rows {
		val := asString(cert[row.key])
		if val == "" {
			continue
		}
		fmt.Fprintf(&b, "<tr><td style='padding:4px; font-weight:600;'>%s</td><td style='padding:4px;'>%s</td></tr>", row.label, val)
	}

	b.WriteString("</table></div>")
	return b.String()
}

// subMap returns data[key] as a map, or an empty map.
func subMap(data map[string]interface{}, key string) map[string]interface{} {
	if m, ok := data[key].(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

// subList returns data[key] as a list of maps, skipping non-map elements.
func subList(data map[string]interface{}, key string) []map[string]interface{} {
	raw, ok := data[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

// asString renders a decoded JSON value as a string; nil becomes "".
func asString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// firstNonEmpty returns the first non-empty string.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// joinNonEmpty joins the non-empty parts with sep.
func joinNonEmpty(parts []string, sep string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
