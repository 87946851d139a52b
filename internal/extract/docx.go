package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/andresmejia3/facextract/internal/types"
)

const (
	packageRels     = "_rels/.rels"
	defaultMainPart = "word/document.xml"
	officeDocRel    = "/officeDocument"
)

type relationships struct {
	Rels []relationship `xml:"Relationship"`
}

type relationship struct {
	ID         string `xml:"Id,attr"`
	Type       string `xml:"Type,attr"`
	Target     string `xml:"Target,attr"`
	TargetMode string `xml:"TargetMode,attr"`
}

// DocxExtractor reads images from OOXML Word packages through the main
// document part's relationship table.
type DocxExtractor struct{}

func NewDocxExtractor() *DocxExtractor {
	return &DocxExtractor{}
}

// Extract collects every relationship whose target contains "image", in
// relationship-table order.
func (e *DocxExtractor) Extract(ctx context.Context, filePath string) ([]types.EmbeddedImage, error) {
	r, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	parts := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		parts[f.Name] = f
	}

	mainPart, err := findMainPart(parts)
	if err != nil {
		return nil, err
	}

	relsName := path.Join(path.Dir(mainPart), "_rels", path.Base(mainPart)+".rels")
	rels, err := readRels(parts, relsName)
	if err != nil {
		return nil, err
	}

	var images []types.EmbeddedImage
	for _, rel := range rels.Rels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !strings.Contains(rel.Target, "image") || strings.EqualFold(rel.TargetMode, "External") {
			continue
		}

		name := resolveTarget(path.Dir(mainPart), rel.Target)
		part, ok := parts[name]
		if !ok {
			return nil, fmt.Errorf("relationship %s points to missing part %s", rel.ID, name)
		}
		data, err := readPart(part)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		images = append(images, types.EmbeddedImage{Index: len(images), Name: name, Data: data})
	}
	return images, nil
}

// findMainPart locates the main document part via the package relationships,
// falling back to the conventional location.
func findMainPart(parts map[string]*zip.File) (string, error) {
	if _, ok := parts[packageRels]; ok {
		rels, err := readRels(parts, packageRels)
		if err != nil {
			return "", err
		}
		for _, rel := range rels.Rels {
			if strings.HasSuffix(rel.Type, officeDocRel) {
				return resolveTarget("", rel.Target), nil
			}
		}
	}
	if _, ok := parts[defaultMainPart]; ok {
		return defaultMainPart, nil
	}
	return "", fmt.Errorf("%s not found in archive", defaultMainPart)
}

func readRels(parts map[string]*zip.File, name string) (*relationships, error) {
	f, ok := parts[name]
	if !ok {
		return nil, fmt.Errorf("%s not found in archive", name)
	}
	data, err := readPart(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	var rels relationships
	if err := xml.Unmarshal(data, &rels); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return &rels, nil
}

func readPart(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// resolveTarget turns a relationship target into a package part name.
// Targets starting with "/" are package-absolute.
func resolveTarget(base, target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(path.Clean(target), "/")
	}
	return path.Join(base, target)
}
