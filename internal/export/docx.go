package export

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

// exportDOCX writes a minimal WordprocessingML package. Word and
// LibreOffice both accept a docx containing just [Content_Types].xml,
// the package relationships and word/document.xml.
func exportDOCX(data TemplateData, title string) (*Result, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	parts := []struct {
		name string
		body string
	}{
		{"[Content_Types].xml", docxContentTypes},
		{"_rels/.rels", docxRels},
		{"word/document.xml", docxDocument(data)},
	}
	for _, part := range parts {
		f, err := zw.Create(part.name)
		if err != nil {
			return nil, fmt.Errorf("docx part %s: %w", part.name, err)
		}
		if _, err := f.Write([]byte(part.body)); err != nil {
			return nil, fmt.Errorf("docx part %s: %w", part.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize docx: %w", err)
	}

	return &Result{
		Data:     buf.Bytes(),
		Filename: sanitizeFilename(title) + ".docx",
		MimeType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	}, nil
}

func docxDocument(data TemplateData) string {
	var b strings.Builder
	b.WriteString(xml.Header)
	b.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)

	writeParagraph(&b, "Title", data.ProcessorName)
	if data.Description != "" {
		writeParagraph(&b, "", data.Description)
	}
	meta := fmt.Sprintf("Version %d", data.VersionNumber)
	if data.SnapshotName != "" {
		meta += " - " + data.SnapshotName
	}
	meta += " | " + data.Author + " | " + data.CreatedAt.Format("Jan 2, 2006")
	writeParagraph(&b, "Subtitle", meta)

	for _, area := range data.Areas {
		writeParagraph(&b, "Heading1", area.Name)
		if len(area.Operations) == 0 {
			writeParagraph(&b, "", "No operations in this area.")
			continue
		}
		for _, op := range area.Operations {
			writeParagraph(&b, "Heading2", op.Name+" ("+strings.ToLower(op.OperationType)+")")
			writeParagraph(&b, "", op.Prompt)
		}
	}

	b.WriteString(`</w:body></w:document>`)
	return b.String()
}

func writeParagraph(b *strings.Builder, style, text string) {
	b.WriteString(`<w:p>`)
	if style != "" {
		b.WriteString(`<w:pPr><w:pStyle w:val="` + style + `"/></w:pPr>`)
	}
	b.WriteString(`<w:r><w:t xml:space="preserve">`)
	_ = xml.EscapeText(b, []byte(text))
	b.WriteString(`</w:t></w:r></w:p>`)
}

const docxContentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
  <Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
  <Default Extension="xml" ContentType="application/xml"/>
  <Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`

const docxRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`
