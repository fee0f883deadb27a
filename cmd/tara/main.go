// Tara - Trusted Advisor remediation handlers.
// Detect. Snapshot. Clean up.
package main

func main() {
	Execute()
}
