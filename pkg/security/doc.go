/*
Package security holds the agent's local key material.

SecretsManager encrypts with AES-256-GCM, prepending the random nonce to
the ciphertext. The onboarding orchestrator uses it to seal the request
needed to resume a task (target and BIG-IQ credentials) before a license
revocation or reboot can kill the process; the sealed blob lives in the
task record only while the task is REVOKING or REBOOTING.

The key is stored hex-encoded, mode 0600, in the data directory.
LoadOrCreateKey takes an exclusive flock on a sibling .lock file so two
agents started against the same directory agree on one key.

EnsureServerCertificate provides the self-signed certificate the HTTPS
listener uses, regenerating it when fewer than 30 days remain.
*/
package security
