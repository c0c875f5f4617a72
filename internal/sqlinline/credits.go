package sqlinline

const QGetBalance = `--sql caed1751-fdb0-4011-bd39-8f7d1a49c1c8
select balance from credit_accounts where owner_id = $1::uuid;
`

const QApplyBalanceDelta = `--sql 31cd3935-1d23-46b9-a925-c3e8d11812f2
insert into credit_accounts(owner_id, balance, updated_at)
values ($1::uuid, greatest($2::bigint, 0), now())
on conflict (owner_id)
do update set balance = credit_accounts.balance + $2::bigint, updated_at = now()
returning balance;
`

const QWithdrawBalance = `--sql 6f0a2c41-8f2e-4a9d-9c37-52de81b4a7e9
update credit_accounts
set balance = balance - $2::bigint, updated_at = now()
where owner_id = $1::uuid and balance >= $2::bigint
returning balance;
`

const QInsertLedgerEntry = `--sql 8ae4453e-b0f9-421e-b64e-293844301060
insert into ledger_entries(id, owner_id, amount, kind, ref_kind, ref_id, note, created_at)
values ($1::uuid, $2::uuid, $3::bigint, $4::text, $5::text, $6::text, $7::text, $8::timestamptz);
`

const QLedgerEntriesByRef = `--sql e5dd2e96-a0b2-46ca-9cd3-af3c1dad9b1f
select id, owner_id, amount, kind, ref_kind, ref_id, coalesce(note, ''), created_at
from ledger_entries
where ref_kind = $1::text and ref_id = $2::text
order by created_at asc;
`

const QLedgerEntriesByOwner = `--sql c24d3e16-c2a2-42fe-8cdb-0445cbd47c1f
select id, owner_id, amount, kind, ref_kind, ref_id, coalesce(note, ''), created_at
from ledger_entries
where owner_id = $1::uuid
order by created_at desc
limit $2::int;
`
