package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feedPage = `<?xml version="1.0" encoding="UTF-8"?>
<feed>
  <tender>
    <id>31705100001</id>
    <title>Поставка серверного оборудования</title>
    <description>Закупка серверов для ЦОД</description>
    <price>2 500 000,00</price>
    <category>ИТ</category>
    <customer>Министерство финансов</customer>
    <url>https://zakupki.example/tender/31705100001</url>
    <published>2026-08-20T10:00:00Z</published>
  </tender>
  <tender>
    <id>31705100002</id>
    <title>Ремонт кровли</title>
    <description></description>
    <price>450000.50</price>
    <category>Строительство</category>
    <url>https://zakupki.example/tender/31705100002</url>
    <published>2026-08-21T08:30:00Z</published>
  </tender>
  <tender>
    <id>31705100003</id>
    <title>Без цены</title>
    <price>договорная</price>
  </tender>
</feed>`

func TestFetchEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tenders", r.URL.Path)
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(feedPage))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	entries, err := c.FetchEntries(context.Background())
	require.NoError(t, err)
	// The unparsable-price entry is dropped, not fatal.
	require.Len(t, entries, 2)

	assert.Equal(t, "31705100001", entries[0].ExternalID)
	assert.Equal(t, "Поставка серверного оборудования", entries[0].Title)
	assert.True(t, entries[0].Price.Equal(decimal.NewFromInt(2_500_000)))
	assert.Equal(t, "ИТ", entries[0].Category)
	assert.Equal(t, 2026, entries[0].PublishedAt.Year())

	assert.True(t, entries[1].Price.Equal(decimal.NewFromFloat(450000.50)))
}

func TestFetchEntriesRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`<feed></feed>`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	entries, err := c.FetchEntries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchDocuments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tenders/ext-1/documents", r.URL.Path)
		_, _ = w.Write([]byte(`<documents>
			<document name="ТЗ.pdf" url="https://x/tz.pdf" size="102400"/>
			<document name="Проект контракта.docx" url="https://x/contract.docx" size="20480"/>
		</documents>`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	docs, err := c.FetchDocuments(context.Background(), "ext-1")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "ТЗ.pdf", docs[0].Name)
	assert.Equal(t, int64(102400), docs[0].Size)
}

func TestFetchAward(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tenders/ext-1/award", r.URL.Path)
		_, _ = w.Write([]byte(`<award>
			<participant tax_id="7701234567" name="ООО Победитель" bid="2 400 000,00" winner="true"/>
			<participant tax_id="7707654321" name="АО Второй" bid="2450000" winner="false"/>
			<participant tax_id="" name="битая запись"/>
		</award>`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	got, err := c.FetchAward(context.Background(), "ext-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Winner)
	assert.Equal(t, "7701234567", got[0].TaxID)
	require.NotNil(t, got[0].BidAmount)
	assert.True(t, got[0].BidAmount.Equal(decimal.NewFromInt(2_400_000)))
	assert.False(t, got[1].Winner)
}

func TestFetchAwardNotPublished(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	got, err := c.FetchAward(context.Background(), "ext-unknown")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"2500000.00", "2500000", false},
		{"2 500 000,50", "2500000.5", false},
		{" 990 ", "990", false},
		{"", "", true},
		{"договорная", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePrice(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}
