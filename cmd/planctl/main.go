// Command planctl drives the planner's cart -> plan -> signature flow
// end to end from the command line, the way cmd/sign-order demonstrated
// the teacher's own EIP-712 order-signing round trip.
package main

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "plan":
		cmdPlan(os.Args[2:])
	case "sign":
		cmdSign(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  planctl plan -addr http://localhost:8090 -cart cart.json")
	fmt.Fprintln(os.Stderr, "  planctl sign -key <hex private key> -step 0 -item 0 < plan.json")
}

// cmdPlan posts a cart (a PlanRequest-shaped JSON file) to a running
// plannerd and prints the resulting ExecutionPlan.
func cmdPlan(args []string) {
	var addr, cartPath string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-addr":
			i++
			addr = args[i]
		case "-cart":
			i++
			cartPath = args[i]
		}
	}
	if addr == "" {
		addr = "http://localhost:8090"
	}
	if cartPath == "" {
		fmt.Fprintln(os.Stderr, "planctl plan: -cart is required")
		os.Exit(1)
	}

	body, err := os.ReadFile(cartPath)
	if err != nil {
		fail("read cart: %v", err)
	}

	resp, err := http.Post(addr+"/api/v1/plan", "application/json", bytes.NewReader(body))
	if err != nil {
		fail("post plan: %v", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		fail("read response: %v", err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, out, "", "  "); err != nil {
		fmt.Println(string(out))
		return
	}
	fmt.Println(pretty.String())
}

// planExcerpt is the slice of ExecutionPlan this CLI needs to locate and
// sign one pending step item; it mirrors planner.ExecutionPlan's JSON
// shape without importing the server-side package (planctl is meant to
// stand alone against any planner deployment's wire format).
type planExcerpt struct {
	Steps []struct {
		Action string `json:"Action"`
		Items  []struct {
			Status    string `json:"Status"`
			Signature *struct {
				SignatureKind string                 `json:"SignatureKind"`
				Message       string                 `json:"Message"`
				Domain        map[string]interface{} `json:"Domain"`
				Types         map[string]interface{} `json:"Types"`
				Value         map[string]interface{} `json:"Value"`
				PostEndpoint  string                 `json:"PostEndpoint"`
				PostMethod    string                 `json:"PostMethod"`
				PostBody      map[string]interface{} `json:"PostBody"`
			} `json:"Signature"`
		} `json:"Items"`
	} `json:"Steps"`
}

// cmdSign reads a plan from stdin, signs the requested step/item's
// pending SignaturePayload with the given private key, and POSTs the
// signature to the payload's PostEndpoint.
func cmdSign(args []string) {
	var keyHex, apiAddr string
	stepIdx, itemIdx := 0, 0
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-key":
			i++
			keyHex = args[i]
		case "-addr":
			i++
			apiAddr = args[i]
		case "-step":
			i++
			fmt.Sscanf(args[i], "%d", &stepIdx)
		case "-item":
			i++
			fmt.Sscanf(args[i], "%d", &itemIdx)
		}
	}
	if keyHex == "" {
		fmt.Fprintln(os.Stderr, "planctl sign: -key is required")
		os.Exit(1)
	}
	if apiAddr == "" {
		apiAddr = "http://localhost:8090"
	}

	key, err := crypto.HexToECDSA(trimHexPrefix(keyHex))
	if err != nil {
		fail("parse private key: %v", err)
	}

	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		fail("read plan from stdin: %v", err)
	}
	var plan planExcerpt
	if err := json.Unmarshal(raw, &plan); err != nil {
		fail("parse plan: %v", err)
	}

	if stepIdx >= len(plan.Steps) || itemIdx >= len(plan.Steps[stepIdx].Items) {
		fail("step/item index out of range")
	}
	item := plan.Steps[stepIdx].Items[itemIdx]
	if item.Signature == nil {
		fail("step %d item %d has no pending signature", stepIdx, itemIdx)
	}
	sig := item.Signature

	var digest []byte
	switch sig.SignatureKind {
	case "eip191":
		digest = accounts.TextHash([]byte(sig.Message))
	case "eip712":
		digest, err = hashGenericTypedData(sig.Domain, sig.Types, sig.Value)
		if err != nil {
			fail("hash typed data: %v", err)
		}
	default:
		fail("unknown signature kind %q", sig.SignatureKind)
	}

	signature, err := crypto.Sign(digest, key)
	if err != nil {
		fail("sign: %v", err)
	}
	// Ethereum's recovery id convention adds 27 to the last byte for
	// on-chain/ecrecover compatibility.
	signature[64] += 27
	sigHex := fmt.Sprintf("0x%x", signature)

	postBody := map[string]interface{}{}
	for k, v := range sig.PostBody {
		postBody[k] = v
	}
	postBody["signature"] = sigHex

	payload, err := json.Marshal(postBody)
	if err != nil {
		fail("marshal post body: %v", err)
	}

	method := sig.PostMethod
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequest(method, apiAddr+"/api/v1"+sig.PostEndpoint, bytes.NewReader(payload))
	if err != nil {
		fail("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fail("submit signature: %v", err)
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(resp.Body)
	fmt.Printf("signed by %s, submitted to %s -> %s: %s\n", addressOf(key).Hex(), sig.PostEndpoint, resp.Status, string(out))
}

func hashGenericTypedData(domain, types, value map[string]interface{}) ([]byte, error) {
	encoded, err := json.Marshal(map[string]interface{}{
		"domain": domain,
		"types":  types,
		"value":  value,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Domain apitypes.TypedDataDomain `json:"domain"`
		Types  apitypes.Types           `json:"types"`
		Value  apitypes.TypedDataMessage `json:"value"`
	}
	if err := json.Unmarshal(encoded, &parsed); err != nil {
		return nil, err
	}

	primaryType := ""
	for name := range parsed.Types {
		if name != "EIP712Domain" {
			primaryType = name
			break
		}
	}
	if primaryType == "" {
		return nil, fmt.Errorf("typed data has no primary type besides EIP712Domain")
	}

	typedData := apitypes.TypedData{
		Types:       parsed.Types,
		PrimaryType: primaryType,
		Domain:      parsed.Domain,
		Message:     parsed.Value,
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("hash message: %w", err)
	}
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(messageHash)))
	return crypto.Keccak256(rawData), nil
}

func addressOf(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "planctl: "+format+"\n", args...)
	os.Exit(1)
}
