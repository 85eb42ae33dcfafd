package migrations

func init() {
	Migrations.MustRegister(
		execFile("20250301120200_session_epoch.up.sql"),
		execFile("20250301120200_session_epoch.down.sql"),
	)
}
