package baseline

// StockDocument is the baseline document shipped with the server. It is
// instantiated on first boot; the document hash makes repeat boots a
// no-op. Operators replace it via POST /baseline.
const StockDocument = `schema_version: 1
generated_at: 2026-01-15T00:00:00Z
name: system-baseline
priority: 5
entities:
  - entity: cpu
    fields:
      - field: cpu.tier
        name: CPU tier adjustment
        buckets:
          entry: 0.85
          mainstream: 1.0
          performance: 1.15
          enthusiast: 1.3
      - field: cpu.age_years
        name: CPU depreciation
        formula: "clamp(base_price * -0.05 * cpu.age_years, base_price * -0.4, 0)"
  - entity: ram
    fields:
      - field: ram.type
        name: Memory generation adjustment
        buckets:
          ddr3: 0.9
          ddr4: 1.0
          ddr5: 1.15
        excluded:
          - ddr2
      - field: ram.capacity_gb
        name: Memory capacity bonus
        formula: "clamp(ram.capacity_gb * 1.5, 0, 96)"
  - entity: gpu
    fields:
      - field: gpu.tier
        name: GPU tier adjustment
        buckets:
          integrated: 0.9
          midrange: 1.1
          highend: 1.35
  - entity: storage
    fields:
      - field: storage.type
        name: Storage medium adjustment
        buckets:
          hdd: 0.92
          sata_ssd: 1.0
          nvme: 1.08
  - entity: chassis
    fields:
      - field: chassis.refurbished
        name: Refurbished chassis deduction
        value: -25.0
`
