package burnintent

var (
	// one row per burn saga; hashes and txids are stored as plain hex
	intentTable = `CREATE TABLE IF NOT EXISTS burn_intent (
		id CHAR(36) PRIMARY KEY NOT NULL,
		stakerAddress VARCHAR(90) NOT NULL,
		receiverAddress VARCHAR(90) NOT NULL,
		vaultTxId CHAR(64) NOT NULL,
		signedPsbt TEXT NOT NULL DEFAULT '',
		approveTxHash VARCHAR(66) NOT NULL DEFAULT '',
		burnTxHash VARCHAR(66) NOT NULL DEFAULT '',
		btcTxId VARCHAR(64) NOT NULL DEFAULT '',
		status VARCHAR(10) NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		createdAt INTEGER NOT NULL,
		updatedAt INTEGER NOT NULL,
		CONSTRAINT chk_status CHECK (status IN ('created', 'signed', 'approved', 'burned', 'broadcast', 'failed'))
	);
	CREATE INDEX IF NOT EXISTS idx_burn_intent_status ON burn_intent (status);`

	intentColumns = " id, stakerAddress, receiverAddress, vaultTxId, signedPsbt, approveTxHash, burnTxHash, btcTxId, status, error, createdAt, updatedAt "
)
