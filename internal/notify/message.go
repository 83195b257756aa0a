package notify

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var titles = map[EventType]string{
	EventPOCreated:   "ออกใบสั่งซื้อใหม่",
	EventPOReceived:  "รับสินค้าตามใบสั่งซื้อแล้ว",
	EventPOCancelled: "ยกเลิกใบสั่งซื้อ",
}

// Render formats evt as a Thai message with grouped baht amounts.
func Render(evt Event) string {
	title, ok := titles[evt.Type]
	if !ok {
		title = string(evt.Type)
	}
	amount, _ := evt.Amount.Float64()
	printer := message.NewPrinter(language.Thai)

	var b strings.Builder
	b.WriteString(printer.Sprintf("%s %s\n", title, evt.DocumentNumber))
	if evt.Supplier != "" {
		b.WriteString(printer.Sprintf("ผู้จำหน่าย: %s\n", evt.Supplier))
	}
	b.WriteString(printer.Sprintf("ยอดรวม: %v บาท\n", number.Decimal(amount, number.Scale(2))))
	if len(evt.References) > 0 {
		b.WriteString(printer.Sprintf("ใบขอซื้อ: %s\n", strings.Join(evt.References, ", ")))
	}
	if len(evt.EvidenceURLs) > 0 {
		b.WriteString(printer.Sprintf("หลักฐานการรับ: %d ไฟล์\n", len(evt.EvidenceURLs)))
	}
	if evt.Reason != "" {
		b.WriteString(printer.Sprintf("เหตุผล: %s\n", evt.Reason))
	}
	b.WriteString(printer.Sprintf("โดย: %s", evt.Actor))
	return b.String()
}
