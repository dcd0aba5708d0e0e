package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/certflow/certflow"
	"github.com/certflow/certflow/workflow"
)

// demoWorkflowID is the definition registered by serve and run by demo.
const demoWorkflowID = "halal-certification"

// haramIngredients maps known non-compliant ingredients to the ruling a
// reviewer would cite.
var haramIngredients = map[string]string{
	"pork gelatin": "porcine derivative",
	"lard":         "porcine derivative",
	"ethanol":      "intoxicant",
	"carmine":      "insect derivative (E120)",
}

// mashboohIngredients lists doubtful ingredients that need a source audit
// before a ruling.
var mashboohIngredients = map[string]string{
	"mono- and diglycerides": "fat source unverified (E471)",
	"whey powder":            "rennet source unverified",
	"natural flavors":        "carrier solvent unverified",
}

func registerDemoWorkforce(engine *certflow.Engine) error {
	agents := []certflow.Agent{
		newDocumentExtractor(),
		newIngredientAnalyzer(),
		newCertificateGenerator(),
		newNotifier(),
	}
	for _, a := range agents {
		if err := engine.Registry().Register(a); err != nil {
			return err
		}
	}
	return nil
}

func registerDemoWorkflow(engine *certflow.Engine) error {
	def, err := demoWorkflow()
	if err != nil {
		return err
	}
	return engine.RegisterWorkflow(def)
}

// demoWorkflow builds the halal-certification definition. Certificate
// generation jumps straight to the applicant notice on success, so the
// failure notice only runs through the fallback strategy.
func demoWorkflow() (*certflow.Definition, error) {
	return certflow.NewBuilder(demoWorkflowID).
		WithName("Halal Certification").
		WithDescription("Reviews application documents, analyzes the ingredient list and issues a certificate for compliant products.").
		WithVersion("1.0.0").
		WithTimeout(2 * time.Minute).
		OnError(workflow.ErrorHandlingStrategy{Type: workflow.StrategyFallback, FallbackStep: "notify-failure"}).
		Step("document-review", "document-processing").Named("Document review").Done().
		Step("ingredient-analysis", "ingredient-analysis").Named("Ingredient analysis").
		When("document-review.status", workflow.OpEq, "extracted").Done().
		Step("certificate-generation", "certificate-generation").Named("Certificate issue").
		When("ingredient-analysis.overallStatus", workflow.OpEq, "HALAL").
		OnSuccess("notification").Done().
		Step("notify-failure", "notification").Named("Failure notice").Done().
		Step("notification", "notification").Named("Applicant notice").
		When("certificate-generation.status", workflow.OpEq, "issued").Done().
		Build()
}

func newDocumentExtractor() certflow.Agent {
	return certflow.NewFuncAgent("document-extractor", []string{"document-processing"},
		func(ctx context.Context, input any) (any, error) {
			return map[string]any{
				"status":    "extracted",
				"documents": []string{"ingredient-list", "supplier-declaration", "process-flow"},
				"pages":     6,
			}, nil
		})
}

func newIngredientAnalyzer() certflow.Agent {
	return certflow.NewFuncAgent("ingredient-analyzer", []string{"ingredient-analysis"},
		func(ctx context.Context, input any) (any, error) {
			bag, _ := input.(map[string]any)
			ingredients := ingredientList(bag)

			flagged := make([]map[string]any, 0)
			doubtful := make([]map[string]any, 0)
			for _, name := range ingredients {
				key := strings.ToLower(strings.TrimSpace(name))
				if ruling, bad := haramIngredients[key]; bad {
					flagged = append(flagged, map[string]any{"name": name, "ruling": ruling})
					continue
				}
				if reason, unclear := mashboohIngredients[key]; unclear {
					doubtful = append(doubtful, map[string]any{"name": name, "reason": reason})
				}
			}

			status := "HALAL"
			switch {
			case len(flagged) > 0:
				status = "HARAM"
			case len(doubtful) > 0:
				status = "MASHBOOH"
			}

			return map[string]any{
				"overallStatus": status,
				"analyzed":      len(ingredients),
				"flagged":       flagged,
				"doubtful":      doubtful,
			}, nil
		})
}

func newCertificateGenerator() certflow.Agent {
	return certflow.NewFuncAgent("certificate-generator", []string{"certificate-generation"},
		func(ctx context.Context, input any) (any, error) {
			bag, _ := input.(map[string]any)
			company, _ := bag["company"].(string)
			product, _ := bag["product"].(string)

			issued := time.Now().UTC()
			return map[string]any{
				"certificateId": fmt.Sprintf("HC-%d-%s", issued.Year(), strings.ToUpper(uuid.New().String()[:8])),
				"status":        "issued",
				"company":       company,
				"product":       product,
				"issuedAt":      issued.Format(time.RFC3339),
				"validUntil":    issued.AddDate(1, 0, 0).Format(time.RFC3339),
			}, nil
		})
}

func newNotifier() certflow.Agent {
	return certflow.NewFuncAgent("notifier", []string{"notification"},
		func(ctx context.Context, input any) (any, error) {
			bag, _ := input.(map[string]any)
			subject := "certification update"
			if id, ok := bag["certificateId"].(string); ok && id != "" {
				subject = "halal certificate " + id + " issued"
			}

			recipient, _ := bag["contact"].(string)
			if recipient == "" {
				recipient = "applicant"
			}

			return map[string]any{
				"notified":  true,
				"channel":   "email",
				"recipient": recipient,
				"subject":   subject,
			}, nil
		})
}

// ingredientList tolerates both JSON-decoded ([]any) and programmatic
// ([]string) ingredient lists.
func ingredientList(bag map[string]any) []string {
	switch v := bag["ingredients"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func runDemo(args []string) {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	haram := fs.Bool("haram", false, "Use a sample application with non-compliant ingredients")
	fs.Parse(args)

	cfg := loadConfig(*configPath)

	// The record goes to stdout; keep logs on stderr.
	logCfg := cfg.Log
	logCfg.OutputPaths = []string{"stderr"}
	logger := initLogger(logCfg)
	defer logger.Sync()

	engine, err := certflow.New(certflow.WithConfig(cfg), certflow.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	if err := registerDemoWorkforce(engine); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to register agents: %v\n", err)
		os.Exit(1)
	}
	if err := registerDemoWorkflow(engine); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to register workflow: %v\n", err)
		os.Exit(1)
	}

	result, err := engine.ExecuteWorkflow(context.Background(), demoWorkflowID, sampleApplication(*haram))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Execution rejected: %v\n", err)
		os.Exit(1)
	}

	// Prefer the full execution record with its step traces; the result
	// alone still covers the outcome if the lookup misses.
	var record any = result
	if snap, ok := engine.Execution(result.ExecutionID); ok {
		record = snap
	}

	out, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render record: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))

	if !result.Success {
		os.Exit(1)
	}
}

// sampleApplication is the demo submission. The compliant variant issues a
// certificate; the haram variant stops at ingredient analysis.
func sampleApplication(haram bool) map[string]any {
	ingredients := []any{"wheat flour", "palm oil", "salt", "sugar", "dried vegetables"}
	if haram {
		ingredients = append(ingredients, "pork gelatin")
	}
	return map[string]any{
		"company":     "Barokah Foods Sdn Bhd",
		"product":     "Instant Noodle Original",
		"contact":     "qa@barokahfoods.example",
		"ingredients": ingredients,
	}
}
