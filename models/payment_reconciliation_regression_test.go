package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/billbookhq/billbook_backend/config"
	"github.com/billbookhq/billbook_backend/models"
	"github.com/billbookhq/billbook_backend/utils"
)

// Full payment lifecycle against a real MySQL + Redis: amount_received,
// payments_snapshot and status must track the ledger through create, move
// and delete, and an over-balance payment must be rejected before anything
// is written.
func TestPaymentReconciliation_Lifecycle(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := setupIntegrationEnv(t)

	customer, err := models.CreateCustomer(ctx, &models.NewContact{Name: "Acme Traders"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}

	invoice, err := models.CreateInvoice(ctx, &models.NewInvoice{
		CustomerId:     customer.ID,
		IssueDate:      time.Now().UTC(),
		IsTaxInclusive: utils.NewFalse(),
		Items: []models.NewInvoiceItem{
			{Description: "Consulting", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(1000)},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if invoice.TotalAmount.Cmp(decimal.NewFromInt(1000)) != 0 {
		t.Fatalf("expected total 1000; got %s", invoice.TotalAmount.String())
	}
	if invoice.CurrentStatus != models.InvoiceStatusPending {
		t.Fatalf("expected Pending; got %s", invoice.CurrentStatus)
	}

	first, err := models.CreatePayment(ctx, &models.NewPayment{
		InvoiceId:   invoice.ID,
		Amount:      decimal.NewFromInt(400),
		PaymentDate: time.Now().UTC(),
		PaymentMode: models.PaymentModeBankTransfer,
	})
	if err != nil {
		t.Fatalf("CreatePayment(400): %v", err)
	}

	got := mustGetInvoice(t, ctx, invoice.ID)
	if got.AmountReceived.Cmp(decimal.NewFromInt(400)) != 0 {
		t.Fatalf("expected amount_received 400; got %s", got.AmountReceived.String())
	}
	if got.CurrentStatus != models.InvoiceStatusPartial {
		t.Fatalf("expected Partial; got %s", got.CurrentStatus)
	}
	if len(got.PaymentsSnapshot) != 1 || got.PaymentsSnapshot[0].PaymentId != first.ID {
		t.Fatalf("expected snapshot of 1 payment (id %d); got %+v", first.ID, got.PaymentsSnapshot)
	}

	second, err := models.CreatePayment(ctx, &models.NewPayment{
		InvoiceId:   invoice.ID,
		Amount:      decimal.NewFromInt(600),
		PaymentDate: time.Now().UTC(),
		PaymentMode: models.PaymentModeCash,
	})
	if err != nil {
		t.Fatalf("CreatePayment(600): %v", err)
	}

	got = mustGetInvoice(t, ctx, invoice.ID)
	if got.AmountReceived.Cmp(decimal.NewFromInt(1000)) != 0 {
		t.Fatalf("expected amount_received 1000; got %s", got.AmountReceived.String())
	}
	if got.CurrentStatus != models.InvoiceStatusPaid {
		t.Fatalf("expected Paid; got %s", got.CurrentStatus)
	}

	// fully paid: one more cent must be rejected before any write
	_, err = models.CreatePayment(ctx, &models.NewPayment{
		InvoiceId:   invoice.ID,
		Amount:      decimal.NewFromFloat(0.01),
		PaymentDate: time.Now().UTC(),
	})
	if !errors.Is(err, models.ErrPaymentExceedsBalance) {
		t.Fatalf("expected ErrPaymentExceedsBalance; got %v", err)
	}
	payments, err := models.GetPayments(ctx, &models.PaymentFilter{InvoiceId: &invoice.ID})
	if err != nil {
		t.Fatalf("GetPayments: %v", err)
	}
	if len(payments) != 2 {
		t.Fatalf("rejected payment must not be persisted; ledger has %d rows", len(payments))
	}

	// deleting the first payment rolls the invoice back to Partial
	if _, err := models.DeletePayment(ctx, first.ID); err != nil {
		t.Fatalf("DeletePayment: %v", err)
	}
	got = mustGetInvoice(t, ctx, invoice.ID)
	if got.AmountReceived.Cmp(decimal.NewFromInt(600)) != 0 {
		t.Fatalf("expected amount_received 600 after delete; got %s", got.AmountReceived.String())
	}
	if got.CurrentStatus != models.InvoiceStatusPartial {
		t.Fatalf("expected Partial after delete; got %s", got.CurrentStatus)
	}
	if len(got.PaymentsSnapshot) != 1 || got.PaymentsSnapshot[0].PaymentId != second.ID {
		t.Fatalf("expected snapshot of remaining payment (id %d); got %+v", second.ID, got.PaymentsSnapshot)
	}
}

// Moving a payment between invoices must reconcile both sides.
func TestPaymentReconciliation_MoveBetweenInvoices(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := setupIntegrationEnv(t)

	customer, err := models.CreateCustomer(ctx, &models.NewContact{Name: "Move Co"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}

	invoiceA := mustCreateInvoice(t, ctx, customer.ID, 500)
	invoiceB := mustCreateInvoice(t, ctx, customer.ID, 800)

	payment, err := models.CreatePayment(ctx, &models.NewPayment{
		InvoiceId:   invoiceA.ID,
		Amount:      decimal.NewFromInt(300),
		PaymentDate: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}

	if _, err := models.UpdatePayment(ctx, payment.ID, &models.NewPayment{
		InvoiceId:   invoiceB.ID,
		Amount:      decimal.NewFromInt(300),
		PaymentDate: payment.PaymentDate,
		PaymentMode: payment.PaymentMode,
	}); err != nil {
		t.Fatalf("UpdatePayment(move): %v", err)
	}

	gotA := mustGetInvoice(t, ctx, invoiceA.ID)
	if !gotA.AmountReceived.IsZero() || gotA.CurrentStatus != models.InvoiceStatusPending {
		t.Fatalf("source invoice not released: received=%s status=%s", gotA.AmountReceived.String(), gotA.CurrentStatus)
	}
	gotB := mustGetInvoice(t, ctx, invoiceB.ID)
	if gotB.AmountReceived.Cmp(decimal.NewFromInt(300)) != 0 || gotB.CurrentStatus != models.InvoiceStatusPartial {
		t.Fatalf("target invoice not reconciled: received=%s status=%s", gotB.AmountReceived.String(), gotB.CurrentStatus)
	}
}

// An invoice past its due date with nothing received reads back Overdue even
// though the stored status was Pending at creation time, and the tax inclusive
// flag is frozen after creation.
func TestInvoiceDisplayStatusAndImmutability(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := setupIntegrationEnv(t)

	customer, err := models.CreateCustomer(ctx, &models.NewContact{Name: "Late Ltd"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}

	pastDue := time.Now().UTC().AddDate(0, 0, -10)
	invoice, err := models.CreateInvoice(ctx, &models.NewInvoice{
		CustomerId:     customer.ID,
		IssueDate:      pastDue.AddDate(0, 0, -5),
		DueDate:        &pastDue,
		IsTaxInclusive: utils.NewFalse(),
		Items: []models.NewInvoiceItem{
			{Description: "Overdue work", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(250)},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	got := mustGetInvoice(t, ctx, invoice.ID)
	if got.CurrentStatus != models.InvoiceStatusOverdue {
		t.Fatalf("expected Overdue on read; got %s", got.CurrentStatus)
	}

	if _, err := models.UpdateInvoice(ctx, invoice.ID, &models.UpdateInvoiceInput{
		IsTaxInclusive: utils.NewTrue(),
	}); !errors.Is(err, models.ErrTaxInclusiveImmutable) {
		t.Fatalf("expected ErrTaxInclusiveImmutable; got %v", err)
	}
}

func mustCreateInvoice(t *testing.T, ctx context.Context, customerId int, amount int64) *models.Invoice {
	t.Helper()
	invoice, err := models.CreateInvoice(ctx, &models.NewInvoice{
		CustomerId:     customerId,
		IssueDate:      time.Now().UTC(),
		IsTaxInclusive: utils.NewFalse(),
		Items: []models.NewInvoiceItem{
			{Description: "Line", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(amount)},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	return invoice
}

func mustGetInvoice(t *testing.T, ctx context.Context, id int) *models.Invoice {
	t.Helper()
	invoice, err := models.GetInvoice(ctx, id)
	if err != nil {
		t.Fatalf("GetInvoice(%d): %v", id, err)
	}
	return invoice
}

func setupIntegrationEnv(t *testing.T) context.Context {
	t.Helper()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "billbook_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx := context.Background()
	ctx = utils.SetAccountIdInContext(ctx, fmt.Sprintf("acct-%d", time.Now().UnixNano()))
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	return ctx
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("billbook-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("billbook-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=billbook_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
