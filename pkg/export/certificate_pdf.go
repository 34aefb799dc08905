package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	qrcode "github.com/skip2/go-qrcode"
)

// CertificateData carries the fields rendered onto an outing certificate.
type CertificateData struct {
	ApprovalNumber string
	StudentName    string
	StudentUSN     string
	Branch         string
	Year           string
	Block          string
	Room           string
	RequestType    string
	Reason         string
	OutDate        string
	OutTime        string
	ReturnDate     string
	ReturnTime     string
	WardenName     string
	ApprovedAt     string
	ValidUntil     string
	VerifyURL      string
}

// CertificatePDF renders an approval certificate with an embedded QR code
// pointing at the verification endpoint for gate-side checks.
type CertificatePDF struct{}

// NewCertificatePDF constructs the renderer.
func NewCertificatePDF() *CertificatePDF {
	return &CertificatePDF{}
}

// Render produces the certificate as PDF bytes.
func (e *CertificatePDF) Render(data CertificateData) ([]byte, error) {
	if data.ApprovalNumber == "" {
		return nil, fmt.Errorf("approval number required")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 20, 15)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, "HOSTEL OUTING PERMISSION CERTIFICATE", "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(0, 8, fmt.Sprintf("Approval No: %s", data.ApprovalNumber), "", 1, "C", false, 0, "")
	pdf.Ln(6)

	rows := [][2]string{
		{"Student", data.StudentName},
		{"USN", data.StudentUSN},
		{"Branch / Year", data.Branch + " / " + data.Year},
		{"Block / Room", data.Block + " / " + data.Room},
		{"Request Type", data.RequestType},
		{"Reason", data.Reason},
		{"Out", data.OutDate + " " + data.OutTime},
		{"Return", data.ReturnDate + " " + data.ReturnTime},
		{"Approved By", data.WardenName},
		{"Approved At", data.ApprovedAt},
		{"Valid Until", data.ValidUntil},
	}
	pdf.SetFont("Arial", "", 10)
	for _, row := range rows {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(45, 8, row[0], "1", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(135, 8, row[1], "1", 1, "", false, 0, "")
	}

	if data.VerifyURL != "" {
		png, err := qrcode.Encode(data.VerifyURL, qrcode.Medium, 256)
		if err != nil {
			return nil, fmt.Errorf("encode verification qr: %w", err)
		}
		opts := gofpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader("verify-qr", opts, bytes.NewReader(png))
		pdf.Ln(8)
		pdf.ImageOptions("verify-qr", 80, pdf.GetY(), 50, 50, false, opts, 0, "")
		pdf.SetY(pdf.GetY() + 52)
		pdf.SetFont("Arial", "I", 8)
		pdf.CellFormat(0, 6, "Scan at the gate to verify this certificate", "", 1, "C", false, 0, "")
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render certificate pdf: %w", err)
	}
	return buf.Bytes(), nil
}
