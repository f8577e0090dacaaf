// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/sentinovo/carbuildervin-auth/pkg/logger"
)

//go:embed templates/*.html
var templateFS embed.FS

type pages struct {
	consent *template.Template
	error   *template.Template
}

func mustParsePages() *pages {
	return &pages{
		consent: template.Must(template.ParseFS(templateFS, "templates/consent.html")),
		error:   template.Must(template.ParseFS(templateFS, "templates/error.html")),
	}
}

type errorPage struct {
	Error       string
	Description string
}

// render executes tmpl into a buffer first so a template failure still
// produces a clean 500.
func render(w http.ResponseWriter, status int, tmpl *template.Template, data any) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		logger.Errorw("failed to render page", "template", tmpl.Name(), "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
