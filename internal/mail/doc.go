// Package mail renders the embedded notification templates, selects the SMTP
// transport for the deployment mode and delivers single messages over SMTP.
package mail
